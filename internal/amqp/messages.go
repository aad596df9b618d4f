package amqp

import (
	"encoding/json"
	"time"

	"moneta/internal/core"
)

// ExpenseEventMessage notifies consumers that an expense changed. It carries
// only the id and the event shape; consumers fetch the current state from the
// database themselves.
type ExpenseEventMessage struct {
	ExpenseID int64                   `json:"expenseId"`
	UserID    *int64                  `json:"userId"`
	Tool      string                  `json:"tool"`
	Type      core.ExpenseEventType   `json:"type"`
	Target    core.ExpenseEventTarget `json:"target"`
	Timestamp time.Time               `json:"timestamp"`
}

func NewExpenseEventMessage(expenseID int64, userID *int64, tool string, typ core.ExpenseEventType) *ExpenseEventMessage {
	return &ExpenseEventMessage{
		ExpenseID: expenseID,
		UserID:    userID,
		Tool:      tool,
		Type:      typ,
		Target:    core.TargetExpense,
		Timestamp: time.Now().UTC(),
	}
}

// StatementMessage is a bank statement line seen on an account, fed to the
// delivery rule worker.
type StatementMessage struct {
	AccountID int64     `json:"accountId"`
	Amount    int64     `json:"amount"` // cents
	Date      time.Time `json:"date"`
	Statement string    `json:"statement"`
}

func (m *ExpenseEventMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }
func (m *StatementMessage) ToJSON() ([]byte, error)    { return json.Marshal(m) }

func ExpenseEventMessageFromJSON(data []byte) (*ExpenseEventMessage, error) {
	var msg ExpenseEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func StatementMessageFromJSON(data []byte) (*StatementMessage, error) {
	var msg StatementMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
