package cases

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultStatus = "NEW"

type Case struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Status             string      `json:"status"`
	CreatedOn          time.Time   `json:"created_on"`
	CreatedBy          string      `json:"created_by"`
	UpdatedOn          *time.Time  `json:"updated_on"`
	UpdatedBy          *string     `json:"updated_by"`
	StatusChangeReason *string     `json:"status_change_reason"`
	Comment            *string     `json:"comment"`
	Assignee           string      `json:"assignee"`
	Watchers           WatcherList `json:"watchers"`
}

type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// UpdateInput is merged into the stored case. Nil or blank fields keep the
// stored value and watchers are appended.
type UpdateInput struct {
	Description        *string     `json:"description"`
	Status             *string     `json:"status"`
	StatusChangeReason *string     `json:"status_change_reason"`
	Comment            *string     `json:"comment"`
	Assignee           *string     `json:"assignee"`
	Watchers           WatcherList `json:"watchers"`
}

func (in UpdateInput) empty() bool {
	return blank(in.Description) && blank(in.Status) && blank(in.StatusChangeReason) &&
		blank(in.Comment) && blank(in.Assignee) && len(in.Watchers) == 0
}

// apply merges in onto c and reports whether the status changed.
func (in UpdateInput) apply(c *Case) bool {
	previous := c.Status
	if !blank(in.Description) {
		c.Description = *in.Description
	}
	if !blank(in.Status) {
		c.Status = *in.Status
	}
	if !blank(in.StatusChangeReason) {
		c.StatusChangeReason = in.StatusChangeReason
	}
	if !blank(in.Comment) {
		c.Comment = in.Comment
	}
	if !blank(in.Assignee) {
		c.Assignee = *in.Assignee
	}
	c.Watchers = c.Watchers.Merge(in.Watchers)
	return c.Status != previous
}

func blank(value *string) bool {
	return value == nil || strings.TrimSpace(*value) == ""
}

type StatusCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type DistinctValue struct {
	Field string `json:"field"`
	Title string `json:"title"`
}

type StatusChange struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	FromStatus *string   `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     *string   `json:"reason"`
	ChangedBy  string    `json:"changed_by"`
	ChangedOn  time.Time `json:"changed_on"`
}

// WatcherList is a set of watcher names that keeps first-seen order. In JSON
// it decodes from either a single string or an array of strings.
type WatcherList []string

func NewWatcherList(names ...string) WatcherList {
	return WatcherList(nil).Merge(names)
}

// Merge returns the receiver followed by the names it does not already hold.
func (w WatcherList) Merge(names []string) WatcherList {
	seen := make(map[string]struct{}, len(w)+len(names))
	out := make(WatcherList, 0, len(w)+len(names))
	for _, list := range [][]string{w, names} {
		for _, name := range list {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func (w *WatcherList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*w = NewWatcherList(single)
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("watchers must be a string or an array of strings")
	}
	*w = NewWatcherList(many...)
	return nil
}

func (w WatcherList) MarshalJSON() ([]byte, error) {
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(w))
}

func (w WatcherList) Value() (driver.Value, error) {
	encoded, err := w.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func (w *WatcherList) Scan(src any) error {
	var raw []byte
	switch value := src.(type) {
	case nil:
		*w = WatcherList{}
		return nil
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("scan watchers: unsupported type %T", src)
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("scan watchers: %w", err)
	}
	*w = NewWatcherList(names...)
	return nil
}
