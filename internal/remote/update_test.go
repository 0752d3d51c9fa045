package remote

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leslieo2/devreload/internal/filewatch"
)

func newTestUpdater(t *testing.T, roots ...string) (*Updater, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, root := range roots {
		require.NoError(t, fs.MkdirAll(root, 0o755))
	}
	return NewUpdater(fs, roots, zaptest.NewLogger(t)), fs
}

func TestUpdater_Apply(t *testing.T) {
	root := filepath.Join("app", "build", "classes")
	u, fs := newTestUpdater(t, root)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, "Old.class"), []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, "App.class"), []byte("v1"), 0o644))

	result, err := u.Apply(UpdateRequest{SourceFolders: []SourceFolder{{
		Name: "/home/dev/app/build/classes",
		Files: []FileUpdate{
			{Path: "App.class", Kind: filewatch.Modify, Content: []byte("v2")},
			{Path: "pkg/New.class", Kind: filewatch.Add, Content: []byte("new")},
			{Path: "Old.class", Kind: filewatch.Delete},
			{Path: "Gone.class", Kind: filewatch.Delete},
		},
	}}})
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Written: 2, Deleted: 2}, result)

	data, err := afero.ReadFile(fs, filepath.Join(root, "App.class"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	data, err = afero.ReadFile(fs, filepath.Join(root, "pkg", "New.class"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	exists, err := afero.Exists(fs, filepath.Join(root, "Old.class"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdater_ApplyRejectsBeforeWriting(t *testing.T) {
	root := filepath.Join("build", "classes")

	tests := []struct {
		name    string
		folder  SourceFolder
		wantErr error
	}{
		{
			name:    "unknown folder",
			folder:  SourceFolder{Name: "target/other", Files: []FileUpdate{{Path: "A.class", Kind: filewatch.Add}}},
			wantErr: ErrUnknownFolder,
		},
		{
			name:    "parent traversal",
			folder:  SourceFolder{Name: "build/classes", Files: []FileUpdate{{Path: "../../etc/passwd", Kind: filewatch.Add}}},
			wantErr: ErrInvalidPath,
		},
		{
			name:    "absolute path",
			folder:  SourceFolder{Name: "build/classes", Files: []FileUpdate{{Path: "/etc/passwd", Kind: filewatch.Add}}},
			wantErr: ErrInvalidPath,
		},
		{
			name:    "empty path",
			folder:  SourceFolder{Name: "build/classes", Files: []FileUpdate{{Path: "", Kind: filewatch.Add}}},
			wantErr: ErrInvalidPath,
		},
		{
			name:    "missing kind",
			folder:  SourceFolder{Name: "build/classes", Files: []FileUpdate{{Path: "A.class"}}},
			wantErr: ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, fs := newTestUpdater(t, root)
			valid := SourceFolder{
				Name:  "build/classes",
				Files: []FileUpdate{{Path: "First.class", Kind: filewatch.Add, Content: []byte("x")}},
			}

			_, err := u.Apply(UpdateRequest{SourceFolders: []SourceFolder{valid, tt.folder}})
			require.ErrorIs(t, err, tt.wantErr)

			exists, err := afero.Exists(fs, filepath.Join(root, "First.class"))
			require.NoError(t, err)
			assert.False(t, exists, "no file is written when any part of the update is invalid")
		})
	}
}

func TestUpdater_ResolveRoot(t *testing.T) {
	u := NewUpdater(afero.NewMemMapFs(), []string{"build/classes", "/srv/app/resources/"}, nil)

	tests := []struct {
		name string
		want string
	}{
		{name: "build/classes", want: "build/classes"},
		{name: "/home/dev/project/build/classes", want: "build/classes"},
		{name: "resources", want: "/srv/app/resources/"},
		{name: "/srv/app/resources", want: "/srv/app/resources/"},
		{name: "classes2", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := u.resolveRoot(tt.name)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrUnknownFolder)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
