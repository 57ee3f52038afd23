// Package result merges the row sets of a batch's children into one
// dataset tagged by target.
package result

import (
	"bytes"
	"encoding/json"

	"github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	ColumnTargetID   = "target_id"
	ColumnTargetName = "target_name"

	DefaultMaxRows = 1_000_000
)

// State says how much of a batch's output is available.
type State string

const (
	// StateNotReady means no child has resolved and the batch is still going.
	StateNotReady State = "not_ready"
	// StatePartial means some children resolved but the batch is not terminal.
	StatePartial State = "partial"
	// StateComplete means the batch is terminal.
	StateComplete State = "complete"
)

// Source is one child and, when it completed, its stored rows.
type Source struct {
	Child  *models.ChildExecution
	Result *models.ChildResult
}

// TargetSummary is one child's contribution to a dataset.
type TargetSummary struct {
	TargetID     uuid.UUID `json:"target_id"`
	TargetName   string    `json:"target_name"`
	Status       string    `json:"status"`
	RowCount     int       `json:"row_count"`
	Attempts     int       `json:"attempts"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Dataset is the merged output of a batch.
type Dataset struct {
	Columns   []string        `json:"columns"`
	Rows      [][]any         `json:"rows"`
	RowCount  int             `json:"row_count"`
	Truncated bool            `json:"truncated"`
	Targets   []TargetSummary `json:"targets"`
}

// View is either nothing yet, a partial dataset or the complete one.
type View struct {
	State   State    `json:"state"`
	Dataset *Dataset `json:"dataset,omitempty"`
}

type decoded struct {
	columns []string
	rows    [][]any
}

// Aggregate merges sources in order. Columns are target_id, target_name and
// then the union of every completed child's columns in first-seen order;
// values a child did not return are null. At most maxRows rows are kept.
func Aggregate(sources []Source, maxRows int) (*Dataset, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	ds := &Dataset{
		Columns: []string{ColumnTargetID, ColumnTargetName},
		Rows:    [][]any{},
		Targets: make([]TargetSummary, 0, len(sources)),
	}
	index := map[string]int{ColumnTargetID: 0, ColumnTargetName: 1}

	parts := make([]*decoded, len(sources))
	for i, src := range sources {
		if src.Child == nil {
			continue
		}
		ds.Targets = append(ds.Targets, TargetSummary{
			TargetID:     src.Child.TargetID,
			TargetName:   src.Child.TargetName,
			Status:       src.Child.Status,
			RowCount:     src.Child.RowCount,
			Attempts:     src.Child.Attempts,
			ErrorKind:    src.Child.ErrorKind,
			ErrorMessage: src.Child.ErrorMessage,
		})

		if batch.ChildStatus(src.Child.Status) != batch.ChildCompleted || src.Result == nil {
			continue
		}

		d, err := decode(src.Result)
		if err != nil {
			return nil, errors.Wrapf(err, "decode rows of child %s", src.Child.ID)
		}
		parts[i] = d

		for _, col := range d.columns {
			if _, seen := index[col]; seen {
				continue
			}
			index[col] = len(ds.Columns)
			ds.Columns = append(ds.Columns, col)
		}
	}

	for i, d := range parts {
		if d == nil {
			continue
		}
		child := sources[i].Child

		for _, src := range d.rows {
			if len(ds.Rows) >= maxRows {
				ds.Truncated = true
				break
			}

			row := make([]any, len(ds.Columns))
			row[0] = child.TargetID.String()
			row[1] = child.TargetName
			for j, col := range d.columns {
				if j >= len(src) || col == ColumnTargetID || col == ColumnTargetName {
					continue
				}
				row[index[col]] = src[j]
			}
			ds.Rows = append(ds.Rows, row)
		}
		if ds.Truncated {
			break
		}
	}

	ds.RowCount = len(ds.Rows)
	return ds, nil
}

// Build picks the view for a batch given its children.
func Build(b *models.Batch, sources []Source, maxRows int) (View, error) {
	terminal := batch.Status(b.Status).Terminal()

	resolved := false
	for _, src := range sources {
		if src.Child != nil && batch.ChildStatus(src.Child.Status).Terminal() {
			resolved = true
			break
		}
	}

	if !terminal && !resolved {
		return View{State: StateNotReady}, nil
	}

	ds, err := Aggregate(sources, maxRows)
	if err != nil {
		return View{}, err
	}

	state := StatePartial
	if terminal {
		state = StateComplete
	}
	return View{State: state, Dataset: ds}, nil
}

func decode(r *models.ChildResult) (*decoded, error) {
	d := &decoded{}
	if len(r.Columns) > 0 {
		if err := json.Unmarshal(r.Columns, &d.columns); err != nil {
			return nil, err
		}
	}
	if len(r.Rows) > 0 {
		dec := json.NewDecoder(bytes.NewReader(r.Rows))
		dec.UseNumber()
		if err := dec.Decode(&d.rows); err != nil {
			return nil, err
		}
	}
	return d, nil
}
