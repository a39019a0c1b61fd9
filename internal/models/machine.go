package models

import (
	"fmt"
	"strings"
	"time"
)

// MachineMode is the operator-assigned operational state of a machine.
type MachineMode string

const (
	ModeNormal      MachineMode = "normal"
	ModeMaintenance MachineMode = "maintenance"
	ModeSabotage    MachineMode = "sabotage"
	ModeShutdown    MachineMode = "shutdown"
)

// ParseMode converts a user supplied mode string into a MachineMode.
func ParseMode(s string) (MachineMode, error) {
	switch m := MachineMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNormal, ModeMaintenance, ModeSabotage, ModeShutdown:
		return m, nil
	default:
		return "", fmt.Errorf("unknown machine mode %q", s)
	}
}

func (m MachineMode) String() string {
	return string(m)
}

// Machine is a simulated piece of plant equipment.
// Mode drives value synthesis; Status is what the dashboard shows and
// differs from Mode only while sabotaged (Mode=sabotage, Status=shutdown).
type Machine struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	MachineType string      `json:"machine_type"`
	Location    string      `json:"location,omitempty"`
	Mode        MachineMode `json:"mode"`
	Status      MachineMode `json:"status"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
