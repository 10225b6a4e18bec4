package destination

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeOptions decodes a part's options map into out (keys match json
// tags) and validates it. Fields missing from in keep their current value,
// so out can be pre-filled with defaults.
func DecodeOptions(in map[string]any, out any) error {
	if len(in) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           out,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(in); err != nil {
			return fmt.Errorf("options: %w", err)
		}
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}

// ValidateStruct runs the validate tags of v.
func ValidateStruct(v any) error { return validate.Struct(v) }
