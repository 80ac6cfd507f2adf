package detection

// Categories groups COCO classes that should be announced as one thing.
// Classes not listed keep their own name.
var Categories = map[string]string{
	"car":        "vehicle",
	"bus":        "vehicle",
	"motorcycle": "vehicle",
	"truck":      "vehicle",
	"bicycle":    "vehicle",
	"person":     "human",
	"dog":        "animal",
	"cat":        "animal",
	"horse":      "animal",
	"bottle":     "object",
	"cup":        "object",
	"book":       "object",
	"chair":      "furniture",
	"couch":      "furniture",
	"sofa":       "furniture",
	"bed":        "furniture",
}

// CategoryMapper maps a class name to the name used for announcement keys.
type CategoryMapper func(className string) string

// Category returns the category for className, or className itself.
func Category(className string) string {
	if c, ok := Categories[className]; ok {
		return c
	}
	return className
}

// Identity is a CategoryMapper that keys by raw class name.
func Identity(className string) string {
	return className
}
