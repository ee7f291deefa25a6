package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"conductor/pkg/proto"
)

func TestSummary(t *testing.T) {
	assert.Equal(t, "No changes made", Summary(nil))

	one := []proto.ArtifactChange{{Path: "lib/widgets/blue_button.dart", Operation: proto.OpCreate, Content: "SECRET CONTENT"}}
	got := Summary(one)
	assert.Equal(t, "Generated 1 change(s) (created 1): lib/widgets/blue_button.dart", got)
	assert.NotContains(t, got, "SECRET")

	many := []proto.ArtifactChange{
		{Path: "a", Operation: proto.OpCreate},
		{Path: "b", Operation: proto.OpUpdate},
		{Path: "c", Operation: proto.OpDelete},
		{Path: "d", Operation: proto.OpCreate},
		{Path: "e", Operation: proto.OpCreate},
	}
	got = Summary(many)
	assert.Equal(t, "Generated 5 change(s) (created 3, updated 1, deleted 1): a, b, c +2 more", got)
	assert.False(t, strings.Contains(got, "d,"))
}

func TestPathsDeduplicates(t *testing.T) {
	changes := []proto.ArtifactChange{{Path: "a"}, {Path: "b"}, {Path: "a"}}
	assert.Equal(t, []string{"a", "b"}, Paths(changes))
}
