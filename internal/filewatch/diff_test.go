package filewatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(path string, size int64, sec int) FileRecord {
	return FileRecord{Path: path, Size: size, ModTime: time.Unix(int64(sec), 0)}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		previous []FileRecord
		current  []FileRecord
		want     []ChangeRecord
	}{
		{
			name:     "no changes",
			previous: []FileRecord{rec("a", 1, 1), rec("b", 1, 1)},
			current:  []FileRecord{rec("a", 1, 1), rec("b", 1, 1)},
			want:     nil,
		},
		{
			name:     "both empty",
			previous: nil,
			current:  nil,
			want:     nil,
		},
		{
			name:     "added file",
			previous: []FileRecord{rec("a", 1, 1)},
			current:  []FileRecord{rec("a", 1, 1), rec("b", 1, 1)},
			want:     []ChangeRecord{{Path: "b", Kind: Add}},
		},
		{
			name:     "size change",
			previous: []FileRecord{rec("a", 1, 1)},
			current:  []FileRecord{rec("a", 2, 1)},
			want:     []ChangeRecord{{Path: "a", Kind: Modify}},
		},
		{
			name:     "mtime change",
			previous: []FileRecord{rec("a", 1, 1)},
			current:  []FileRecord{rec("a", 1, 2)},
			want:     []ChangeRecord{{Path: "a", Kind: Modify}},
		},
		{
			name:     "deleted file",
			previous: []FileRecord{rec("a", 1, 1), rec("b", 1, 1)},
			current:  []FileRecord{rec("a", 1, 1)},
			want:     []ChangeRecord{{Path: "b", Kind: Delete}},
		},
		{
			name:     "ordering: current order first then deletions in previous order",
			previous: []FileRecord{rec("b", 1, 1), rec("d", 1, 1), rec("x", 1, 1), rec("z", 1, 1)},
			current:  []FileRecord{rec("a", 1, 1), rec("b", 2, 1), rec("c", 1, 1), rec("x", 1, 1)},
			want: []ChangeRecord{
				{Path: "a", Kind: Add},
				{Path: "b", Kind: Modify},
				{Path: "c", Kind: Add},
				{Path: "d", Kind: Delete},
				{Path: "z", Kind: Delete},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := newSnapshot("/root", time.Now(), tt.previous)
			cur := newSnapshot("/root", time.Now(), tt.current)

			set, err := Diff(prev, cur)
			require.NoError(t, err)
			assert.Equal(t, "/root", set.Root)
			assert.Equal(t, tt.want, set.Changes)
			assert.Equal(t, len(tt.want) == 0, set.IsEmpty())
		})
	}
}

func TestDiff_SameSizeRewriteAndAdditionOnDisk(t *testing.T) {
	root := t.TempDir()
	fs := afero.NewOsFs()
	a := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(a, past, past))

	previous, err := TakeSnapshot(fs, root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(a, []byte("y"), 0o644))
	now := time.Now()
	require.NoError(t, os.Chtimes(a, now, now))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("z"), 0o644))

	current, err := TakeSnapshot(fs, root)
	require.NoError(t, err)

	set, err := Diff(previous, current)
	require.NoError(t, err)
	assert.Equal(t, []ChangeRecord{
		{Path: "a.txt", Kind: Modify},
		{Path: "b.txt", Kind: Add},
	}, set.Changes)
}

func TestDiff_RootMismatch(t *testing.T) {
	a := newSnapshot("/a", time.Now(), nil)
	b := newSnapshot("/b", time.Now(), nil)

	_, err := Diff(a, b)
	assert.ErrorIs(t, err, ErrRootMismatch)
}

func TestDiff_MissingRootThenCreated(t *testing.T) {
	empty := newSnapshot("/app", time.Now(), nil)
	full := newSnapshot("/app", time.Now(), []FileRecord{rec("x.class", 3, 1)})

	set, err := Diff(empty, full)
	require.NoError(t, err)
	assert.Equal(t, []ChangeRecord{{Path: "x.class", Kind: Add}}, set.Changes)

	set, err = Diff(full, empty)
	require.NoError(t, err)
	assert.Equal(t, []ChangeRecord{{Path: "x.class", Kind: Delete}}, set.Changes)
}

func TestChangeSet_Count(t *testing.T) {
	set := ChangeSet{Changes: []ChangeRecord{
		{Path: "a", Kind: Add},
		{Path: "b", Kind: Add},
		{Path: "c", Kind: Delete},
	}}
	assert.Equal(t, 2, set.Count(Add))
	assert.Equal(t, 0, set.Count(Modify))
	assert.Equal(t, 1, set.Count(Delete))
}

func TestChangeKind_Text(t *testing.T) {
	data, err := json.Marshal(ChangeRecord{Path: "a.css", Kind: Modify})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"a.css","kind":"MODIFY"}`, string(data))

	var decoded ChangeRecord
	require.NoError(t, json.Unmarshal([]byte(`{"path":"b","kind":"DELETE"}`), &decoded))
	assert.Equal(t, Delete, decoded.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"path":"b","kind":"RENAME"}`), &decoded))

	_, err = ChangeKind(0).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "ADD", Add.String())
	assert.Equal(t, "ChangeKind(9)", ChangeKind(9).String())
}
