package auth

import (
	"errors"
	"testing"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
)

func TestReferenceMatrix(t *testing.T) {
	for _, acting := range domain.Roles {
		for _, assigned := range domain.Roles {
			want := acting == assigned ||
				(acting == domain.RoleOperator && (assigned == domain.RoleLeasing || assigned == domain.RoleMaintenance))
			if got := IsAuthorized(acting, assigned); got != want {
				t.Fatalf("IsAuthorized(%s, %s) = %v, want %v", acting, assigned, got, want)
			}
		}
	}
}

func TestAuthorizeReturnsForbidden(t *testing.T) {
	err := Default().Authorize(domain.RoleResident, domain.RoleMaintenance)
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if forbidden.Acting != domain.RoleResident || forbidden.Assigned != domain.RoleMaintenance {
		t.Fatalf("unexpected error fields: %+v", forbidden)
	}
	if err := Default().Authorize(domain.RoleOperator, domain.RoleLeasing); err != nil {
		t.Fatalf("operator override refused: %v", err)
	}
}

func TestCustomOverrides(t *testing.T) {
	m := NewMatrix(map[domain.Role][]domain.Role{
		domain.RoleLeasing: {domain.RoleProspect},
	})
	if !m.IsAuthorized(domain.RoleLeasing, domain.RoleProspect) {
		t.Fatalf("expected leasing to act for prospect")
	}
	if m.IsAuthorized(domain.RoleOperator, domain.RoleMaintenance) {
		t.Fatalf("custom matrix must not inherit default overrides")
	}
	got := m.Overrides()
	if len(got) != 1 || got[0] != (Override{Acting: domain.RoleLeasing, Assigned: domain.RoleProspect}) {
		t.Fatalf("unexpected overrides: %+v", got)
	}
}
