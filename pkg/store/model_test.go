package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/CTAG07/coil/pkg/markov"
	"github.com/google/go-cmp/cmp"
)

func chainJSON(t *testing.T, c *markov.Chain) string {
	t.Helper()
	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	return string(data)
}

func TestSetupSchemaIdempotent(t *testing.T) {
	db, _ := setupTestDB(t)
	if err := SetupSchema(db); err != nil {
		t.Errorf("second SetupSchema() error = %v", err)
	}
}

func TestSaveAndGetModelInfo(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "fox", mustBuild(t, quickFox, 3))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	m, err := s.GetModelInfo(ctx, "fox")
	if err != nil {
		t.Fatalf("GetModelInfo: expected no error, got %v", err)
	}
	if diff := cmp.Diff(saved, m); diff != "" {
		t.Errorf("GetModelInfo mismatch (-saved +got):\n%s", diff)
	}
	if m.Depth != 3 || m.VocabSize != 7 || m.RootWeight != len(quickFox) || m.Size == 0 {
		t.Errorf("got unexpected model info: %+v", m)
	}

	_, err = s.GetModelInfo(ctx, "nonexistent_model")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for nonexistent model, got %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestSaveReplaces(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	first, err := s.Save(ctx, "model", mustBuild(t, quickFox, 3))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	replacement := mustBuild(t, []string{"a", "b", "a"}, 1)
	second, err := s.Save(ctx, "model", replacement)
	if err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("replacing a model changed its id from %d to %d", first.Id, second.Id)
	}

	models, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos failed: %v", err)
	}
	if len(models) != 1 || models["model"].Depth != 1 || models["model"].VocabSize != 2 {
		t.Errorf("expected the replacement only, got %+v", models)
	}

	loaded, err := s.Load(ctx, "model")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got, want := chainJSON(t, loaded), chainJSON(t, replacement); got != want {
		t.Errorf("Load() = %s, want %s", got, want)
	}
}

func TestSaveInvalid(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "", mustBuild(t, quickFox, 1)); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("Save with empty name: expected ErrInvalidModel, got %v", err)
	}
	if _, err := s.Save(ctx, "nil", nil); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("Save with nil chain: expected ErrInvalidModel, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	chains := map[string]*markov.Chain{
		"empty": mustBuild(t, nil, 2),
		"flat":  mustBuild(t, []string{"the", "the", "the", "dog"}, 0),
		"fox":   mustBuild(t, quickFox, 3),
	}
	for name, c := range chains {
		if _, err := s.Save(ctx, name, c); err != nil {
			t.Fatalf("Save(%q) failed: %v", name, err)
		}
	}

	for name, c := range chains {
		t.Run(name, func(t *testing.T) {
			loaded, err := s.Load(ctx, name)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if got, want := chainJSON(t, loaded), chainJSON(t, c); got != want {
				t.Errorf("Load() = %s, want %s", got, want)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		if _, err := s.Load(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("expected sql.ErrNoRows, got %v", err)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		if _, err := db.ExecContext(ctx, "UPDATE coil_models SET data = ? WHERE model_name = ?", []byte{0xff, 0x01}, "fox"); err != nil {
			t.Fatalf("failed to corrupt model: %v", err)
		}
		if _, err := s.Load(ctx, "fox"); !errors.Is(err, markov.ErrDeserialization) {
			t.Errorf("expected markov.ErrDeserialization, got %v", err)
		}
	})
}

func TestRemoveModel(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	m1, _ := s.Save(ctx, "to_delete", mustBuild(t, []string{"delete", "this", "data"}, 1))
	m2, _ := s.Save(ctx, "to_keep", mustBuild(t, []string{"keep", "this", "data"}, 1))

	if err := s.RemoveModel(ctx, m1); err != nil {
		t.Fatalf("RemoveModel failed: %v", err)
	}

	if _, err := s.GetModelInfo(ctx, m1.Name); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows for deleted model, got %v", err)
	}
	if _, err := s.Load(ctx, m2.Name); err != nil {
		t.Errorf("expected kept model to load, got %v", err)
	}

	if err := s.RemoveModel(ctx, m1); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("removing twice: expected ErrNoRows, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	original := mustBuild(t, quickFox, 3)
	modelInfo, err := s.Save(ctx, "fox", original)
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var buf bytes.Buffer
	if err := s.ExportModel(ctx, modelInfo, &buf); err != nil {
		t.Fatalf("ExportModel failed: %v", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &envelope); err != nil {
		t.Fatalf("export is not a json object: %v", err)
	}
	for _, key := range []string{"name", "depth", "chain"} {
		if _, ok := envelope[key]; !ok {
			t.Errorf("export is missing %q", key)
		}
	}

	_, s2 := setupTestDB(t)
	imported, err := s2.ImportModel(ctx, &buf)
	if err != nil {
		t.Fatalf("ImportModel failed: %v", err)
	}
	if imported.Name != "fox" || imported.Depth != 3 || imported.Nodes != modelInfo.Nodes {
		t.Errorf("unexpected imported model info: %+v", imported)
	}

	loaded, err := s2.Load(ctx, "fox")
	if err != nil {
		t.Fatalf("Load after import failed: %v", err)
	}
	got := loaded.PredictSequence([]string{"the", "quick"}, 5)
	want := []string{"brown", "fox", "and", "the", "lazy"}
	if !cmp.Equal(got, want) {
		t.Errorf("PredictSequence from imported model = %v, want %v", got, want)
	}
}

func TestExportImportDeepChain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping deep chain export in short mode")
	}
	_, s := setupTestDB(t)
	ctx := context.Background()

	const depth = 6000
	tokens := make([]string, depth+1)
	for i := range tokens {
		tokens[i] = "a"
	}
	modelInfo, err := s.Save(ctx, "deep", mustBuild(t, tokens, depth))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var buf bytes.Buffer
	if err := s.ExportModel(ctx, modelInfo, &buf); err != nil {
		t.Fatalf("ExportModel failed: %v", err)
	}

	_, s2 := setupTestDB(t)
	imported, err := s2.ImportModel(ctx, &buf)
	if err != nil {
		t.Fatalf("ImportModel failed: %v", err)
	}
	if imported.Depth != depth || imported.Nodes != modelInfo.Nodes {
		t.Errorf("unexpected imported model info: %+v", imported)
	}
}

func TestDecodeExportedModelSkipsUnknownFields(t *testing.T) {
	data := `{"version":2,"name":"dogs","meta":{"source":"test"},"depth":0,"chain":[0,["the","dog"],[4,[0,[3,0],1,[1,0]]]]}`
	m, err := DecodeExportedModel(strings.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeExportedModel() error = %v", err)
	}
	if m.Name != "dogs" || m.Depth != 0 || m.Chain.Vocabulary().Len() != 2 {
		t.Errorf("DecodeExportedModel() = %q, depth %d", m.Name, m.Depth)
	}
}

func TestImportReplaces(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "model", mustBuild(t, quickFox, 3)); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	data := `{"name":"model","depth":0,"chain":[0,["the","dog"],[4,[0,[3,0],1,[1,0]]]]}`
	info, err := s.ImportModel(ctx, strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportModel failed: %v", err)
	}
	if info.Depth != 0 || info.VocabSize != 2 || info.RootWeight != 4 {
		t.Errorf("import did not replace the model: %+v", info)
	}
}

func TestImportMalformed(t *testing.T) {
	testCases := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "not json", data: `chain`},
		{name: "no chain", data: `{"name":"m","depth":1}`, wantErr: ErrInvalidModel},
		{name: "depth mismatch", data: `{"name":"m","depth":2,"chain":[1,[],[0,0]]}`, wantErr: ErrInvalidModel},
		{name: "empty name", data: `{"name":"","depth":1,"chain":[1,[],[0,0]]}`, wantErr: ErrInvalidModel},
		{name: "bad chain", data: `{"name":"m","depth":1,"chain":[1,["a"],[1,[4,[1,0]]]]}`, wantErr: markov.ErrDeserialization},
		{name: "null chain", data: `{"name":"m","depth":1,"chain":null}`, wantErr: ErrInvalidModel},
		{name: "bare chain", data: `[1,[],[0,0]]`, wantErr: ErrInvalidModel},
		{name: "unterminated", data: `{"name":"m","depth":1,"chain":[1,[],[0,0]]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, s := setupTestDB(t)
			ctx := context.Background()

			_, err := s.ImportModel(ctx, strings.NewReader(tc.data))
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}

			models, _ := s.GetModelInfos(ctx)
			if len(models) != 0 {
				t.Errorf("failed import left %d models behind", len(models))
			}
		})
	}
}
