// Package sweepstate persists the progress of the periodic ssh key sweep.
package sweepstate

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/controller/setting"
)

const (
	// SettingKeySweep is the key used to store the sweep state in the settings table.
	SettingKeySweep = "ssh_key_sweep"
)

type (
	// State is the sweep cursor. A sweep walks users by ascending ID.
	State struct {
		LastUserID  uint64    `json:"lastUserId"`
		Rounds      int       `json:"rounds"`
		StartedAt   time.Time `json:"startedAt"`
		CompletedAt time.Time `json:"completedAt"`
	}
)

// Load loads the sweep state. A missing state yields the zero State.
func (s *State) Load(db *gorm.DB) error {
	v, err := setting.Get(db, SettingKeySweep)
	if errors.Is(err, setting.ErrSettingNotFound) {
		*s = State{}

		return nil
	}

	if err != nil {
		return err
	}

	return json.Unmarshal(v.Value, s)
}

// Save stores the sweep state.
func (s *State) Save(db *gorm.DB) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	_, err = setting.Set(db, SettingKeySweep, data)

	return err
}
