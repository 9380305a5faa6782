package hitl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/humanloop/types"
)

func interactionOf(t InteractionType, opts InteractionOptions) *Interaction {
	return &Interaction{ID: "i-1", Type: t, Options: opts}
}

func TestValidateResponse_ApprovalAndConfirmation(t *testing.T) {
	for _, typ := range []InteractionType{TypeApproval, TypeConfirmation} {
		t.Run(string(typ), func(t *testing.T) {
			in := interactionOf(typ, InteractionOptions{})
			assert.NoError(t, validateResponse(in, true))
			assert.NoError(t, validateResponse(in, false))

			for _, bad := range []any{"yes", 1, nil, []any{true}} {
				err := validateResponse(in, bad)
				require.Error(t, err, "response %v", bad)
				assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))
			}
		})
	}
}

func TestValidateResponse_Input(t *testing.T) {
	tests := []struct {
		name     string
		rules    *ValidationRules
		response any
		wantErr  bool
	}{
		{"plain string passes without rules", nil, "anything", false},
		{"non-string fails", nil, 42, true},
		{"required rejects empty", &ValidationRules{Required: true}, "", true},
		{"required rejects whitespace", &ValidationRules{Required: true}, "   \t", true},
		{"required accepts content", &ValidationRules{Required: true}, "ok", false},
		{"min length rejects short", &ValidationRules{MinLength: 5}, "ab", true},
		{"min length accepts exact", &ValidationRules{MinLength: 5}, "abcde", false},
		{"max length rejects long", &ValidationRules{MaxLength: 3}, "abcd", true},
		{"email pattern rejects partial", &ValidationRules{Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`}, "invalid@", true},
		{"email pattern accepts full", &ValidationRules{Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`}, "a@b.co", false},
		{"invalid pattern fails validation", &ValidationRules{Pattern: `([`}, "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := interactionOf(TypeInput, InteractionOptions{Validation: tt.rules})
			err := validateResponse(in, tt.response)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResponse_InputCustomValidator(t *testing.T) {
	in := interactionOf(TypeInput, InteractionOptions{
		CustomValidator: func(response any) error {
			if response == "forbidden" {
				return errors.New("value is forbidden")
			}
			return nil
		},
	})
	assert.NoError(t, validateResponse(in, "allowed"))

	err := validateResponse(in, "forbidden")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value is forbidden")
}

func TestValidateResponse_ChoiceSingle(t *testing.T) {
	in := interactionOf(TypeChoice, InteractionOptions{
		Choice: &ChoiceOptions{Choices: []string{"red", "green", "blue"}},
	})

	assert.NoError(t, validateResponse(in, "green"))

	t.Run("rejects array response", func(t *testing.T) {
		require.Error(t, validateResponse(in, []string{"red"}))
		require.Error(t, validateResponse(in, []any{"red"}))
	})
	t.Run("rejects unknown choice", func(t *testing.T) {
		require.Error(t, validateResponse(in, "yellow"))
	})
	t.Run("rejects non-string", func(t *testing.T) {
		require.Error(t, validateResponse(in, 3))
	})
	t.Run("no configured choices accepts any string", func(t *testing.T) {
		free := interactionOf(TypeChoice, InteractionOptions{})
		assert.NoError(t, validateResponse(free, "whatever"))
	})
}

func TestValidateResponse_ChoiceMulti(t *testing.T) {
	in := interactionOf(TypeChoice, InteractionOptions{
		Choice: &ChoiceOptions{
			Choices:       []string{"a", "b", "c", "d"},
			MultiSelect:   true,
			MinSelections: 2,
			MaxSelections: 3,
		},
	})

	assert.NoError(t, validateResponse(in, []string{"a", "c"}))
	assert.NoError(t, validateResponse(in, []any{"a", "b", "c"}))

	t.Run("requires array", func(t *testing.T) {
		require.Error(t, validateResponse(in, "a"))
	})
	t.Run("enforces min selections", func(t *testing.T) {
		require.Error(t, validateResponse(in, []string{"a"}))
	})
	t.Run("enforces max selections", func(t *testing.T) {
		require.Error(t, validateResponse(in, []string{"a", "b", "c", "d"}))
	})
	t.Run("rejects unknown choice", func(t *testing.T) {
		require.Error(t, validateResponse(in, []string{"a", "z"}))
	})
	t.Run("rejects non-string selections", func(t *testing.T) {
		require.Error(t, validateResponse(in, []any{"a", 2}))
	})
}

func TestValidateResponse_Custom(t *testing.T) {
	t.Run("delegates to the supplied validator", func(t *testing.T) {
		in := interactionOf(TypeCustom, InteractionOptions{
			CustomValidator: func(response any) error {
				if n, ok := response.(int); !ok || n < 0 {
					return fmt.Errorf("want a non-negative int, got %v", response)
				}
				return nil
			},
		})
		assert.NoError(t, validateResponse(in, 7))
		require.Error(t, validateResponse(in, -1))
		require.Error(t, validateResponse(in, "nope"))
	})

	t.Run("no validator accepts anything", func(t *testing.T) {
		in := interactionOf(TypeCustom, InteractionOptions{})
		assert.NoError(t, validateResponse(in, map[string]any{"k": "v"}))
	})

	t.Run("panic is reported as validation failure", func(t *testing.T) {
		in := interactionOf(TypeCustom, InteractionOptions{
			CustomValidator: func(response any) error {
				panic("validator bug")
			},
		})
		var err error
		assert.NotPanics(t, func() { err = validateResponse(in, "x") })
		require.Error(t, err)
		assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))
		assert.Contains(t, err.Error(), "validator bug")
	})
}
