package auth

import (
	"fmt"
	"sort"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
)

// ForbiddenError indicates the acting role may not complete a task owned by
// another role.
type ForbiddenError struct {
	Acting   domain.Role
	Assigned domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not complete tasks assigned to %s", e.Acting, e.Assigned)
}

// Matrix is a role×role authorization table. Identity pairs are always
// allowed; every other allowed pair is an explicit supervisory override.
type Matrix struct {
	allow map[domain.Role]map[domain.Role]bool
}

// DefaultOverrides lets operators complete leasing and maintenance work.
var DefaultOverrides = map[domain.Role][]domain.Role{
	domain.RoleOperator: {domain.RoleLeasing, domain.RoleMaintenance},
}

// NewMatrix builds a matrix from acting role -> assigned roles overrides.
func NewMatrix(overrides map[domain.Role][]domain.Role) Matrix {
	m := Matrix{allow: make(map[domain.Role]map[domain.Role]bool, len(overrides))}
	for acting, assigned := range overrides {
		row := m.allow[acting]
		if row == nil {
			row = make(map[domain.Role]bool, len(assigned))
			m.allow[acting] = row
		}
		for _, a := range assigned {
			row[a] = true
		}
	}
	return m
}

// Default returns the reference matrix.
func Default() Matrix {
	return NewMatrix(DefaultOverrides)
}

// IsAuthorized reports whether acting may complete a task assigned to assigned.
func (m Matrix) IsAuthorized(acting, assigned domain.Role) bool {
	if acting == assigned {
		return true
	}
	return m.allow[acting][assigned]
}

// Authorize is IsAuthorized returning a ForbiddenError on refusal.
func (m Matrix) Authorize(acting, assigned domain.Role) error {
	if m.IsAuthorized(acting, assigned) {
		return nil
	}
	return ForbiddenError{Acting: acting, Assigned: assigned}
}

// Override is one non-identity allowed pair.
type Override struct {
	Acting   domain.Role `json:"acting"`
	Assigned domain.Role `json:"assigned"`
}

// Overrides lists the non-identity pairs in a stable order for auditing.
func (m Matrix) Overrides() []Override {
	var out []Override
	for acting, row := range m.allow {
		for assigned, ok := range row {
			if ok && acting != assigned {
				out = append(out, Override{Acting: acting, Assigned: assigned})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Acting != out[j].Acting {
			return out[i].Acting < out[j].Acting
		}
		return out[i].Assigned < out[j].Assigned
	})
	return out
}

// IsAuthorized evaluates the reference matrix.
func IsAuthorized(acting, assigned domain.Role) bool {
	return Default().IsAuthorized(acting, assigned)
}
