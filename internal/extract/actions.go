package extract

import (
	"context"
	"fmt"

	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/textseg"
)

// ActionItemsResult is the decoded action items table, possibly empty.
type ActionItemsResult struct {
	Items []schema.ActionItem
	// Capped reports whether the input text was cut at the character cap.
	Capped bool
	Usage  Usage
}

type actionItemReply struct {
	ItemNumber      looseInt    `json:"item_number"`
	Description     looseString `json:"description"`
	ActionToBeTaken looseString `json:"action_to_be_taken"`
	Responsible     looseString `json:"responsible"`
	DueDate         looseString `json:"due_date"`
	Status          looseString `json:"status"`
}

// ActionItems searches the document, capped to the configured size, for the
// action items table.
func (e *Extractor) ActionItems(ctx context.Context, text string) (*ActionItemsResult, error) {
	input := textseg.Cap(text, e.opts.ActionItemCharCap)
	raw, usage, err := e.call(ctx, "action items", buildActionItemsPrompt(input))
	if err != nil {
		return nil, err
	}
	var replies []actionItemReply
	if err := decodeList(raw, "action_items", &replies); err != nil {
		return nil, fmt.Errorf("extract: action items: decode: %w", err)
	}

	res := &ActionItemsResult{Capped: len(input) < len(text), Usage: usage}
	for _, a := range replies {
		item := schema.ActionItem{
			ItemNumber:      int(a.ItemNumber),
			Description:     clean(a.Description),
			ActionToBeTaken: clean(a.ActionToBeTaken),
			Responsible:     clean(a.Responsible),
			DueDate:         clean(a.DueDate),
			Status:          clean(a.Status),
		}
		if item.Description == "" && item.ActionToBeTaken == "" && item.Responsible == "" && item.DueDate == "" {
			continue
		}
		if item.ItemNumber < 1 {
			item.ItemNumber = len(res.Items) + 1
		}
		res.Items = append(res.Items, item)
	}
	if res.Items == nil {
		res.Items = []schema.ActionItem{}
	}
	return res, nil
}
