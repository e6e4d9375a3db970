package inputval

import (
	"strings"
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		// Valid emails
		{"user@example.com", true},
		{"user.name@example.com", true},
		{"user+tag@example.com", true},
		{"user@subdomain.example.com", true},
		{"user123@example.co.uk", true},

		// Invalid emails
		{"", false},
		{"   ", false},
		{"notanemail", false},
		{"@example.com", false},
		{"user@", false},
		{"user@.com", false},
		{"user example.com", false},
		{"user@@example.com", false},
		{"Name <user@example.com>", false}, // ParseAddress accepts this but we want bare email
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := IsValidEmail(tt.email)
			if got != tt.want {
				t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestIsValidOTPCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"", false},
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{" 12345", false},
		{"１２３４５６", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := IsValidOTPCode(tt.code); got != tt.want {
				t.Errorf("IsValidOTPCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestIsValidOpaqueToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"base64url", "q1w2e3r4t5y6u7i8o9p0-_AZaz09xyzw", true},
		{"hex", "0123456789abcdef0123456789abcdef", true},
		{"too short", "abc", false},
		{"too long", strings.Repeat("a", 129), false},
		{"padding", "q1w2e3r4t5y6u7i8o9p0=", false},
		{"slash", "q1w2e3r4/5y6u7i8o9p0", false},
		{"operator", "{\"$ne\":null}aaaaaaaaaaaa", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidOpaqueToken(tt.token); got != tt.want {
				t.Errorf("IsValidOpaqueToken(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestIsValidUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0b8a3f6e-2f4d-4c1a-9a57-6d2f1e0c9b34", true},
		{"00000000-0000-0000-0000-000000000000", true},

		{"", false},
		{"0b8a3f6e2f4d4c1a9a576d2f1e0c9b34", false},              // no hyphens
		{"urn:uuid:0b8a3f6e-2f4d-4c1a-9a57-6d2f1e0c9b34", false}, // prefixed
		{"{0b8a3f6e-2f4d-4c1a-9a57-6d2f1e0c9b34}", false},        // braced
		{"0b8a3f6e-2f4d-4c1a-9a57-6d2f1e0c9b3g", false},          // invalid hex char
		{"507f1f77bcf86cd799439011", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := IsValidUUID(tt.id)
			if got != tt.want {
				t.Errorf("IsValidUUID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	type TestInput struct {
		Name  string `validate:"required" label:"Name"`
		Email string `validate:"required,email" label:"Email"`
	}

	tests := []struct {
		name      string
		input     TestInput
		wantError bool
	}{
		{
			name:      "valid input",
			input:     TestInput{Name: "John", Email: "john@example.com"},
			wantError: false,
		},
		{
			name:      "missing name",
			input:     TestInput{Name: "", Email: "john@example.com"},
			wantError: true,
		},
		{
			name:      "missing email",
			input:     TestInput{Name: "John", Email: ""},
			wantError: true,
		},
		{
			name:      "invalid email",
			input:     TestInput{Name: "John", Email: "notanemail"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.input)
			if tt.wantError && !result.HasErrors() {
				t.Errorf("Validate() expected errors, got none")
			}
			if !tt.wantError && result.HasErrors() {
				t.Errorf("Validate() expected no errors, got: %s", result.First())
			}
		})
	}
}

func TestResult_First(t *testing.T) {
	// Empty result
	r := &Result{}
	if got := r.First(); got != "" {
		t.Errorf("First() on empty result = %q, want empty string", got)
	}

	// Result with errors
	r = &Result{
		Errors: []FieldError{
			{Field: "name", Label: "Name", Message: "Name is required."},
			{Field: "email", Label: "Email", Message: "Email is required."},
		},
	}
	if got := r.First(); got != "Name is required." {
		t.Errorf("First() = %q, want %q", got, "Name is required.")
	}
}

func TestResult_All(t *testing.T) {
	// Empty result
	r := &Result{}
	if got := r.All(); got != "" {
		t.Errorf("All() on empty result = %q, want empty string", got)
	}

	// Result with errors
	r = &Result{
		Errors: []FieldError{
			{Field: "name", Label: "Name", Message: "Name is required."},
			{Field: "email", Label: "Email", Message: "Email is required."},
		},
	}
	want := "Name is required.; Email is required."
	if got := r.All(); got != want {
		t.Errorf("All() = %q, want %q", got, want)
	}
}

func TestResult_HasErrors(t *testing.T) {
	// Empty result
	r := &Result{}
	if r.HasErrors() {
		t.Error("HasErrors() on empty result should return false")
	}

	// Result with errors
	r = &Result{
		Errors: []FieldError{
			{Field: "name", Label: "Name", Message: "Name is required."},
		},
	}
	if !r.HasErrors() {
		t.Error("HasErrors() with errors should return true")
	}
}

func TestResult_Fields(t *testing.T) {
	r := &Result{
		Errors: []FieldError{
			{Field: "email", Message: "Email is required."},
			{Field: "code", Message: "Code must be a 6-digit code."},
			{Field: "email", Message: "second message"},
		},
	}
	got := r.Fields()
	if len(got) != 2 {
		t.Fatalf("Fields() len = %d, want 2", len(got))
	}
	if got["email"] != "Email is required." {
		t.Errorf("Fields()[email] = %q, want first message", got["email"])
	}
}

func TestValidate_CustomRules(t *testing.T) {
	type CodeInput struct {
		Code string `json:"code" validate:"required,otpcode" label:"Code"`
	}

	result := Validate(CodeInput{Code: "123456"})
	if result.HasErrors() {
		t.Errorf("Validate() otpcode should be valid, got: %s", result.First())
	}

	result = Validate(CodeInput{Code: "12a456"})
	if !result.HasErrors() {
		t.Fatal("Validate() otpcode=12a456 should fail")
	}
	if result.First() != "Code must be a 6-digit code." {
		t.Errorf("Validate() message = %q", result.First())
	}
	if _, ok := result.Fields()["code"]; !ok {
		t.Errorf("Fields() = %v, want key code", result.Fields())
	}

	type TokenInput struct {
		Token string `json:"token" validate:"required,opaquetoken" label:"Token"`
	}

	result = Validate(TokenInput{Token: "q1w2e3r4t5y6u7i8o9p0-_AZaz09xyzw"})
	if result.HasErrors() {
		t.Errorf("Validate() opaquetoken should be valid, got: %s", result.First())
	}

	result = Validate(TokenInput{Token: "not a token"})
	if !result.HasErrors() {
		t.Error("Validate() opaquetoken with spaces should fail")
	}

	type IDInput struct {
		ID string `validate:"required,sessionid" label:"ID"`
	}

	result = Validate(IDInput{ID: "0b8a3f6e-2f4d-4c1a-9a57-6d2f1e0c9b34"})
	if result.HasErrors() {
		t.Errorf("Validate() sessionid should be valid, got: %s", result.First())
	}

	result = Validate(IDInput{ID: "507f1f77bcf86cd799439011"})
	if !result.HasErrors() {
		t.Error("Validate() sessionid with an ObjectID should fail")
	}
}

func TestValidate_MinMaxRules(t *testing.T) {
	type LengthInput struct {
		Short string `validate:"min=3" label:"Short field"`
		Long  string `validate:"max=5" label:"Long field"`
	}

	// Valid lengths
	result := Validate(LengthInput{Short: "abc", Long: "12345"})
	if result.HasErrors() {
		t.Errorf("Validate() valid lengths should pass, got: %s", result.First())
	}

	// Too short
	result = Validate(LengthInput{Short: "ab", Long: "123"})
	if !result.HasErrors() {
		t.Error("Validate() short=ab should fail min=3")
	}

	// Too long
	result = Validate(LengthInput{Short: "abcd", Long: "123456"})
	if !result.HasErrors() {
		t.Error("Validate() long=123456 should fail max=5")
	}
}

func TestValidate_OneOfRule(t *testing.T) {
	type EnumInput struct {
		Status string `validate:"oneof=active inactive" label:"Status"`
	}

	result := Validate(EnumInput{Status: "active"})
	if result.HasErrors() {
		t.Errorf("Validate() oneof=active should be valid, got: %s", result.First())
	}

	result = Validate(EnumInput{Status: "deleted"})
	if !result.HasErrors() {
		t.Error("Validate() oneof=deleted should fail")
	}
}

func TestValidate_PointerStruct(t *testing.T) {
	type Input struct {
		Name string `validate:"required" label:"Name"`
	}

	input := &Input{Name: "test"}
	result := Validate(input)
	if result.HasErrors() {
		t.Errorf("Validate() pointer struct should work, got: %s", result.First())
	}
}

func TestValidate_NonStruct(t *testing.T) {
	// Validate with non-struct should not panic
	result := Validate("not a struct")
	// Should return empty result (no fields to validate)
	if result == nil {
		t.Error("Validate() non-struct should return non-nil result")
	}
}

func TestValidate_JSONTags(t *testing.T) {
	type Input struct {
		FullName string `json:"full_name" validate:"required" label:"Full name"`
	}

	result := Validate(Input{FullName: ""})
	if !result.HasErrors() {
		t.Error("Validate() empty FullName should fail")
	}
	// The label should be used in the message
	if result.First() != "Full name is required." {
		t.Errorf("Validate() error message = %q, want label-based message", result.First())
	}
}

func TestValidate_NoLabel(t *testing.T) {
	type Input struct {
		Name string `validate:"required"` // No label tag
	}

	result := Validate(Input{Name: ""})
	if !result.HasErrors() {
		t.Error("Validate() empty Name should fail")
	}
	// Should use field name when no label
	if result.First() != "Name is required." {
		t.Errorf("Validate() error message = %q, want field name message", result.First())
	}
}
