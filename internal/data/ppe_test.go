package data_test

import (
	"strings"
	"testing"

	"github.com/technosupport/ts-ppe/internal/data"
)

func TestIsPPEClass(t *testing.T) {
	for _, c := range data.PPEClasses {
		if !data.IsPPEClass(c) {
			t.Errorf("known class %q rejected", c)
		}
	}
	for _, c := range []string{"boots", "HELMET", "helmet "} {
		if data.IsPPEClass(c) {
			t.Errorf("unknown class %q accepted", c)
		}
	}
}

func TestValidatePPEConfig(t *testing.T) {
	if err := data.ValidatePPEConfig([]string{"helmet", "safety_vest"}, []string{"gloves"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	err := data.ValidatePPEConfig([]string{"helmet", "jetpack"}, nil)
	if err == nil || !strings.Contains(err.Error(), "jetpack") {
		t.Errorf("error should name the offending class, got %v", err)
	}

	err = data.ValidatePPEConfig([]string{"helmet"}, []string{"helmet"})
	if err == nil || !strings.Contains(err.Error(), "helmet") {
		t.Errorf("overlap should be rejected, got %v", err)
	}
}

func TestRoleRank(t *testing.T) {
	if !data.RoleAtLeast("admin", "manager") {
		t.Error("admin should outrank manager")
	}
	if data.RoleAtLeast("viewer", "operator") {
		t.Error("viewer should not reach operator")
	}
	if !data.RoleAtLeast("operator", "operator") {
		t.Error("role should meet itself")
	}
	if data.RoleAtLeast("unknown", "viewer") {
		t.Error("unknown role should rank below everything")
	}
}
