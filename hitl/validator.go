package hitl

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/humanloop/types"
)

// validateResponse checks a proposed response against the interaction's type
// and options. It is a pure function: the interaction is never mutated, so a
// failed validation can be retried by the caller without side effects.
func validateResponse(in *Interaction, response any) error {
	switch in.Type {
	case TypeApproval, TypeConfirmation:
		if _, ok := response.(bool); !ok {
			return validationError(fmt.Sprintf("%s response must be a boolean, got %T", in.Type, response))
		}
		return nil
	case TypeInput:
		return validateInput(in.Options, response)
	case TypeChoice:
		return validateChoice(in.Options.Choice, response)
	case TypeCustom:
		return runCustomValidator(in.Options.CustomValidator, response)
	default:
		return validationError(fmt.Sprintf("unknown interaction type: %s", in.Type))
	}
}

func validateInput(opts InteractionOptions, response any) error {
	s, ok := response.(string)
	if !ok {
		return validationError(fmt.Sprintf("input response must be a string, got %T", response))
	}

	if rules := opts.Validation; rules != nil {
		if rules.Required && strings.TrimSpace(s) == "" {
			return validationError("input is required").WithField("required")
		}
		if n := utf8.RuneCountInString(s); rules.MinLength > 0 && n < rules.MinLength {
			return validationError(fmt.Sprintf("input must be at least %d characters, got %d", rules.MinLength, n)).
				WithField("min_length")
		}
		if n := utf8.RuneCountInString(s); rules.MaxLength > 0 && n > rules.MaxLength {
			return validationError(fmt.Sprintf("input must be at most %d characters, got %d", rules.MaxLength, n)).
				WithField("max_length")
		}
		if rules.Pattern != "" {
			re, err := regexp.Compile(rules.Pattern)
			if err != nil {
				return validationError(fmt.Sprintf("invalid validation pattern: %v", err)).WithField("pattern")
			}
			if !re.MatchString(s) {
				return validationError(fmt.Sprintf("input does not match pattern %q", rules.Pattern)).
					WithField("pattern")
			}
		}
	}

	if opts.CustomValidator != nil {
		return runCustomValidator(opts.CustomValidator, response)
	}
	return nil
}

func validateChoice(opts *ChoiceOptions, response any) error {
	selections, isArray, stringsOnly := asStringSlice(response)

	if opts == nil || !opts.MultiSelect {
		if isArray {
			return validationError("single-select choice does not accept an array response")
		}
		s, ok := response.(string)
		if !ok {
			return validationError(fmt.Sprintf("choice response must be a string, got %T", response))
		}
		if opts != nil && len(opts.Choices) > 0 && !slices.Contains(opts.Choices, s) {
			return validationError(fmt.Sprintf("%q is not one of the available choices", s))
		}
		return nil
	}

	if !isArray {
		return validationError(fmt.Sprintf("multi-select choice requires an array response, got %T", response))
	}
	if !stringsOnly {
		return validationError("choice selections must be strings")
	}
	if opts.MinSelections > 0 && len(selections) < opts.MinSelections {
		return validationError(fmt.Sprintf("at least %d selections required, got %d", opts.MinSelections, len(selections))).
			WithField("min_selections")
	}
	if opts.MaxSelections > 0 && len(selections) > opts.MaxSelections {
		return validationError(fmt.Sprintf("at most %d selections allowed, got %d", opts.MaxSelections, len(selections))).
			WithField("max_selections")
	}
	if len(opts.Choices) > 0 {
		for _, s := range selections {
			if !slices.Contains(opts.Choices, s) {
				return validationError(fmt.Sprintf("%q is not one of the available choices", s))
			}
		}
	}
	return nil
}

// runCustomValidator invokes a caller-supplied validator. A panic inside the
// function is reported as a validation failure, never propagated raw.
func runCustomValidator(fn ValidatorFunc, response any) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = validationError(fmt.Sprintf("custom validator panicked: %v", r))
		}
	}()
	if verr := fn(response); verr != nil {
		return validationError(verr.Error()).WithCause(verr)
	}
	return nil
}

func asStringSlice(response any) (selections []string, isArray, stringsOnly bool) {
	switch v := response.(type) {
	case []string:
		return v, true, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, true, false
			}
			out = append(out, s)
		}
		return out, true, true
	}
	return nil, false, false
}

func validationError(reason string) *types.Error {
	return types.NewError(types.ErrValidationFailed, reason)
}
