package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kioku/internal/model"
)

func TestParseConfirmMarker(t *testing.T) {
	tests := []struct {
		name    string
		request string
		want    string
		ok      bool
	}{
		{"english", "#CONFIRM:A1B2C3D4E5F6", "A1B2C3D4E5F6", true},
		{"lowercase token uppercased", "#confirm: a1b2c3d4e5f6", "A1B2C3D4E5F6", true},
		{"chinese marker fullwidth colon", "#确认：A1B2C3D4E5F6", "A1B2C3D4E5F6", true},
		{"embedded in text", "好的 #确认:A1B2C3D4E5F6 谢谢", "A1B2C3D4E5F6", true},
		{"too short", "#CONFIRM:AB12", "", false},
		{"absent", "删除记录", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseConfirmMarker(tt.request)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMergeMarker(t *testing.T) {
	tests := []struct {
		request string
		want    model.MergeStrategy
		ok      bool
	}{
		{"记住这个 #MERGE:overwrite", model.MergeOverwrite, true},
		{"#merge: keep", model.MergeKeep, true},
		{"#MERGE:versioned", model.MergeVersioned, true},
		{"#合并：覆盖", model.MergeOverwrite, true},
		{"#合并:保留", model.MergeKeep, true},
		{"#合并:版本", model.MergeVersioned, true},
		{"no marker", "", false},
	}
	for _, tt := range tests {
		got, ok := parseMergeMarker(tt.request)
		assert.Equal(t, tt.ok, ok, tt.request)
		assert.Equal(t, tt.want, got, tt.request)
	}
}

func TestStripDirectives(t *testing.T) {
	assert.Equal(t, "记住 我喜欢靠窗的座位",
		stripDirectives("记住 我喜欢靠窗的座位 #MERGE:overwrite"))
	assert.Equal(t, "", stripDirectives("#CONFIRM:A1B2C3D4E5F6"))
	assert.Equal(t, "plain request", stripDirectives("plain  request"))
}
