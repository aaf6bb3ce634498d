package session

import (
	"context"
	"errors"
	"time"

	"github.com/gestaozabele/painelvendas/internal/kv"
)

const reminderPrefix = "password_change_reminder:"

type reminderState struct {
	Dismissed bool `json:"dismissed"`
}

// Reminders guarda, por usuário, se o aviso de troca de senha foi dispensado.
type Reminders struct {
	store kv.Store
	now   func() time.Time
}

// NewReminders cria o repositório de lembretes sobre o store local.
func NewReminders(store kv.Store) *Reminders {
	return &Reminders{store: store, now: time.Now}
}

func reminderKey(userID string) string {
	return reminderPrefix + userID
}

// Dismissed indica se o usuário pediu para não ver mais o aviso.
func (r *Reminders) Dismissed(ctx context.Context, userID string) (bool, error) {
	var st reminderState
	_, err := kv.GetJSON(ctx, r.store, reminderKey(userID), &st)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Dismissed, nil
}

// Dismiss registra a preferência do usuário.
func (r *Reminders) Dismiss(ctx context.Context, userID string) error {
	return kv.PutJSON(ctx, r.store, reminderKey(userID), reminderState{Dismissed: true}, r.now())
}

// Clear apaga a preferência; chamado no logout.
func (r *Reminders) Clear(ctx context.Context, userID string) error {
	return r.store.Remove(ctx, reminderKey(userID))
}
