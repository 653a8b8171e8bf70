package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/chatd/internal/model"
)

func recordWithSources(sources ...model.Source) model.ChatRecord {
	return model.ChatRecord{Response: model.ChatResponse{Sources: sources}}
}

func TestFillSourceWindow(t *testing.T) {
	records := []model.ChatRecord{
		recordWithSources(model.Source{Text: "oldest grounding", DocPath: "a.json"}),
		recordWithSources(model.Source{Text: "middle grounding", DocPath: "b.json"}),
		recordWithSources(model.Source{Text: "newest grounding", DocPath: "c.json"}),
	}

	t.Run("nothing missing", func(t *testing.T) {
		assert.Nil(t, fillSourceWindow(records, 4, 4, nil))
	})

	t.Run("no history", func(t *testing.T) {
		assert.Nil(t, fillSourceWindow(nil, 0, 4, nil))
	})

	t.Run("newest turns first", func(t *testing.T) {
		texts := fillSourceWindow(records, 0, 2, nil)
		assert.Equal(t, []string{"newest grounding", "middle grounding"}, texts)
	})

	t.Run("stops at topN counting found results", func(t *testing.T) {
		texts := fillSourceWindow(records, 2, 3, nil)
		assert.Equal(t, []string{"newest grounding"}, texts)
	})

	t.Run("excludes filtered doc paths", func(t *testing.T) {
		texts := fillSourceWindow(records, 0, 4, []string{"c.json"})
		assert.Equal(t, []string{"middle grounding", "oldest grounding"}, texts)
	})

	t.Run("skips empty and duplicate texts", func(t *testing.T) {
		dup := []model.ChatRecord{
			recordWithSources(model.Source{Text: "shared grounding"}),
			recordWithSources(model.Source{Text: ""}, model.Source{Text: "shared grounding"}),
		}
		texts := fillSourceWindow(dup, 0, 4, nil)
		assert.Equal(t, []string{"shared grounding"}, texts)
	})
}
