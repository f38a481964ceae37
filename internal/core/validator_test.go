package core

import (
	"testing"

	"carepath/internal/types"
)

func TestValidator_TriggerRequest(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name      string
		req       types.TriggerRequest
		wantCode  types.ErrorCode
		wantField string
	}{
		{"valid", types.TriggerRequest{SubjectID: "5b0e9d4c-0c3f-4a53-9a57-2f5d1d2f4e11"}, "", ""},
		{"valid with source", types.TriggerRequest{SubjectID: "5b0e9d4c-0c3f-4a53-9a57-2f5d1d2f4e11", Source: types.TriggerSourceRetry}, "", ""},
		{"missing subject", types.TriggerRequest{}, types.ErrCodeValidationMissingField, "subjectId"},
		{"non-uuid subject", types.TriggerRequest{SubjectID: "patient-7"}, types.ErrCodeValidationInvalidSubjectID, "subjectId"},
		{"unknown source", types.TriggerRequest{SubjectID: "5b0e9d4c-0c3f-4a53-9a57-2f5d1d2f4e11", Source: "cron"}, types.ErrCodeValidationInvalidSource, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.req)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !types.IsCode(err, tt.wantCode) {
				t.Fatalf("err = %v, want %s", err, tt.wantCode)
			}
			appErr := err.(*types.AppError)
			if appErr.Details["field"] != tt.wantField {
				t.Errorf("field = %v, want %s", appErr.Details["field"], tt.wantField)
			}
		})
	}
}
