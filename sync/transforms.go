package sync

import (
	"fmt"
	"log"
	"strings"
)

// ApplyFieldTransforms applies configured transforms to fields already set
// on the destination. Transforms are declared as "function" or
// "function:arg" keyed by the destination field.
func ApplyFieldTransforms(transforms map[string]string, destination Mappable) error {
	if len(transforms) == 0 {
		return nil
	}

	fields := destination.GetFields()

	for field, transform := range transforms {
		if _, exists := fields[field]; !exists {
			return fmt.Errorf("invalid transform, field %s does not exist", field)
		}

		function, arg, _ := strings.Cut(transform, ":")

		switch function {
		case "toLower":
			if fieldValue, ok := fields[field].(string); ok {
				destination.SetField(field, strings.ToLower(fieldValue))
			}

		case "toUpper":
			if fieldValue, ok := fields[field].(string); ok {
				destination.SetField(field, strings.ToUpper(fieldValue))
			}

		case "warnIfEqual":
			if s := fmt.Sprintf("%v", fields[field]); arg == s {
				log.Printf("Warning: %s has value of '%v'\n", field, s)
			}

		case "dropIfEqual":
			if s := fmt.Sprintf("%v", fields[field]); arg == s {
				destination.DeleteField(field)
			}

		default:
			return fmt.Errorf("unsupported transform: %s", transform)
		}
	}

	return nil
}
