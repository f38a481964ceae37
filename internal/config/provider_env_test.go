package config

import (
	"context"
	"testing"
)

func TestEnvVarProvider_GetParametersBatch(t *testing.T) {
	t.Setenv("CAREPATH_TEST_PARAM", "value-1")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{"CAREPATH_TEST_PARAM", "CAREPATH_TEST_ABSENT"})
	if err != nil {
		t.Fatalf("GetParametersBatch error: %v", err)
	}
	if got["CAREPATH_TEST_PARAM"] != "value-1" {
		t.Errorf("resolved value = %q, want value-1", got["CAREPATH_TEST_PARAM"])
	}
	if _, ok := got["CAREPATH_TEST_ABSENT"]; ok {
		t.Error("absent keys must be omitted")
	}
}
