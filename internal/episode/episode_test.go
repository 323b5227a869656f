package episode

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/replay/internal/errors"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DSN = ""
	repo, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return repo
}

func seed(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()

	if err := repo.PutEmbodiment(ctx, 1, "Bimanual-049"); err != nil {
		t.Fatalf("PutEmbodiment: %v", err)
	}
	if err := repo.PutEmbodiment(ctx, 2, "single-hand-048"); err != nil {
		t.Fatalf("PutEmbodiment: %v", err)
	}
	if err := repo.PutTeleopMode(ctx, 1, "glove"); err != nil {
		t.Fatalf("PutTeleopMode: %v", err)
	}
	if err := repo.PutSubdataset(ctx, &Subdataset{
		ID: 10, Name: "kitchen", Description: "pick and place", EmbodimentID: 1, TeleopModeID: 1,
	}); err != nil {
		t.Fatalf("PutSubdataset: %v", err)
	}
	if err := repo.PutSubdataset(ctx, &Subdataset{ID: 11, Name: "lab", EmbodimentID: 2}); err != nil {
		t.Fatalf("PutSubdataset: %v", err)
	}
}

func TestGet_JoinsSubdataset(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seed(t, repo)

	uploaded := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.Put(ctx, &Episode{ID: 1, URL: "zarr:///data/ep1.zarr", UploadedAt: uploaded, SubdatasetID: 10})

	info, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if info.ID != 1 || info.URL != "zarr:///data/ep1.zarr" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.UploadedAt == nil || !info.UploadedAt.Equal(uploaded) {
		t.Errorf("expected uploaded_at %v, got %v", uploaded, info.UploadedAt)
	}
	if info.SubdatasetName != "kitchen" || info.SubdatasetDescription != "pick and place" {
		t.Errorf("unexpected subdataset %q %q", info.SubdatasetName, info.SubdatasetDescription)
	}
	if info.EmbodimentName != "Bimanual-049" || info.TeleopModeName != "glove" {
		t.Errorf("unexpected embodiment/teleop %q %q", info.EmbodimentName, info.TeleopModeName)
	}
	if !info.IsBimanual() {
		t.Error("expected bimanual episode")
	}
}

func TestGet_MissingJoinsLeaveNamesEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seed(t, repo)

	repo.Put(ctx, &Episode{ID: 2, URL: "/data/ep2", SubdatasetID: 11})
	repo.Put(ctx, &Episode{ID: 3, URL: "/data/ep3"})

	info, err := repo.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.TeleopModeName != "" || info.EmbodimentName != "single-hand-048" {
		t.Errorf("unexpected names %+v", info)
	}
	if info.IsBimanual() {
		t.Error("did not expect bimanual episode")
	}

	info, err = repo.Get(ctx, 3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.SubdatasetName != "" || info.EmbodimentName != "" {
		t.Errorf("expected empty names, got %+v", info)
	}
	if info.UploadedAt == nil {
		t.Error("expected default upload time")
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Get(context.Background(), 404)
	if !errors.Is(err, errors.ErrEpisodeNotFound) {
		t.Errorf("expected ErrEpisodeNotFound, got %v", err)
	}
	if !errors.IsNotFound(err) {
		t.Error("expected IsNotFound to match")
	}
}

func TestGetURL(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	repo.Put(ctx, &Episode{ID: 1, URL: "/data/ep1"})
	repo.Put(ctx, &Episode{ID: 2})

	url, err := repo.GetURL(ctx, 1)
	if err != nil || url != "/data/ep1" {
		t.Errorf("expected /data/ep1, got %q (%v)", url, err)
	}
	if _, err := repo.GetURL(ctx, 2); !errors.Is(err, errors.ErrEpisodeURLMissing) {
		t.Errorf("expected ErrEpisodeURLMissing, got %v", err)
	}
	if _, err := repo.GetURL(ctx, 3); !errors.Is(err, errors.ErrEpisodeNotFound) {
		t.Errorf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestPut_Replaces(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	repo.Put(ctx, &Episode{ID: 1, URL: "/old"})
	repo.Put(ctx, &Episode{ID: 1, URL: "/new"})

	url, _ := repo.GetURL(ctx, 1)
	if url != "/new" {
		t.Errorf("expected /new, got %q", url)
	}
}

func TestIsBimanual(t *testing.T) {
	tests := map[string]bool{
		"bimanual_049":    true,
		"BIMANUAL":        true,
		"Single Hand 048": false,
		"":                false,
	}
	for name, want := range tests {
		info := &Info{EmbodimentName: name}
		if got := info.IsBimanual(); got != want {
			t.Errorf("IsBimanual(%q): expected %v, got %v", name, want, got)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
	if err := repo.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	seed(t, repo)
	if err := repo.PutSubdataset(ctx, &Subdataset{ID: 12, Name: "pick_place"}); err != nil {
		t.Fatalf("PutSubdataset: %v", err)
	}

	repo.Put(ctx, &Episode{ID: 1, URL: "/a", SubdatasetID: 10})
	repo.Put(ctx, &Episode{ID: 2, URL: "/b", SubdatasetID: 11})
	repo.Put(ctx, &Episode{ID: 3, URL: "/c", SubdatasetID: 10})
	repo.Put(ctx, &Episode{ID: 4, URL: "/d", SubdatasetID: 12})

	ids := func(infos []*Info) []int64 {
		var out []int64
		for _, i := range infos {
			out = append(out, i.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all", Filter{}, []int64{1, 2, 3, 4}},
		{"subdataset", Filter{Subdataset: "KITCH"}, []int64{1, 3}},
		{"embodiment", Filter{Embodiment: "single"}, []int64{2}},
		{"both", Filter{Subdataset: "kitchen", Embodiment: "bimanual"}, []int64{1, 3}},
		{"escaped", Filter{Subdataset: "_"}, []int64{4}},
		{"limit", Filter{Limit: 2}, []int64{1, 2}},
		{"no match", Filter{Subdataset: "garage"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infos, err := repo.Find(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			got := ids(infos)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
					break
				}
			}
		})
	}
}

func TestPut_RejectsInvalidNames(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	if err := repo.PutEmbodiment(ctx, 1, ""); !errors.IsValidation(err) {
		t.Errorf("expected validation error for empty embodiment, got %v", err)
	}
	if err := repo.PutTeleopMode(ctx, 1, "a/b"); !errors.IsValidation(err) {
		t.Errorf("expected validation error for teleop mode, got %v", err)
	}
	if err := repo.PutSubdataset(ctx, &Subdataset{ID: 1, Name: ".hidden"}); !errors.IsValidation(err) {
		t.Errorf("expected validation error for subdataset, got %v", err)
	}
}
