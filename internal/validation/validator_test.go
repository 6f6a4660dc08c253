// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

type trackInput struct {
	CourseID  string `json:"course_id" validate:"required,ident"`
	ModuleID  string `json:"module_id" validate:"required,ident,max=16"`
	SeekCount int    `json:"seek_count" validate:"gte=0"`
	Mode      string `json:"mode,omitempty" validate:"omitempty,oneof=play skip"`
	Internal  string `json:"-"`
}

func TestValidateStruct_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input trackInput
	}{
		{"minimal", trackInput{CourseID: "go-101", ModuleID: "m1"}},
		{"punctuated ids", trackInput{CourseID: "org:go.101", ModuleID: "intro_1@v2", SeekCount: 3}},
		{"with mode", trackInput{CourseID: "c", ModuleID: "m", Mode: "skip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateStruct(&tt.input); err != nil {
				t.Fatalf("ValidateStruct() = %v, want nil", err)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		input     trackInput
		wantField string
		wantTag   string
	}{
		{"missing course", trackInput{ModuleID: "m"}, "course_id", "required"},
		{"slash in course", trackInput{CourseID: "a/b", ModuleID: "m"}, "course_id", "ident"},
		{"hash in module", trackInput{CourseID: "c", ModuleID: "m#1"}, "module_id", "ident"},
		{"module too long", trackInput{CourseID: "c", ModuleID: strings.Repeat("m", 17)}, "module_id", "max"},
		{"negative seeks", trackInput{CourseID: "c", ModuleID: "m", SeekCount: -1}, "seek_count", "gte"},
		{"bad mode", trackInput{CourseID: "c", ModuleID: "m", Mode: "rewind"}, "mode", "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.input)
			if verr == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := verr.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors (%v), want 1", len(errs), verr)
			}
			if errs[0].Field() != tt.wantField || errs[0].Tag() != tt.wantTag {
				t.Fatalf("error = %s/%s, want %s/%s", errs[0].Field(), errs[0].Tag(), tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestToAPIError_SingleError(t *testing.T) {
	verr := ValidateStruct(&trackInput{ModuleID: "m"})
	if verr == nil {
		t.Fatal("expected validation error")
	}

	apiErr := verr.ToAPIError()
	if apiErr.Code != CodeValidationError {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if apiErr.Message != "course_id is required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "course_id" {
		t.Errorf("Details = %v", apiErr.Details)
	}
}

func TestToAPIError_MultipleErrors(t *testing.T) {
	verr := ValidateStruct(&trackInput{SeekCount: -2})
	if verr == nil {
		t.Fatal("expected validation error")
	}

	apiErr := verr.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 3 {
		t.Fatalf("Details = %v", apiErr.Details)
	}
	for _, want := range []string{"course_id is required", "module_id is required", "seek_count must be greater than or equal to 0"} {
		if !strings.Contains(apiErr.Message, want) {
			t.Errorf("Message %q missing %q", apiErr.Message, want)
		}
	}
}

func TestValidIdent(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"learner-1", true},
		{"a", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
		{"a/b", false},
		{strings.Repeat("x", MaxIdentLength), true},
		{strings.Repeat("x", MaxIdentLength+1), false},
	}
	for _, tt := range tests {
		if got := ValidIdent(tt.in); got != tt.want {
			t.Errorf("ValidIdent(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRequestValidationError_Empty(t *testing.T) {
	ve := &RequestValidationError{}
	if ve.Error() != "validation failed" {
		t.Errorf("Error() = %q", ve.Error())
	}
	if ve.ToAPIError().Message != "Validation failed" {
		t.Errorf("ToAPIError().Message = %q", ve.ToAPIError().Message)
	}
}
