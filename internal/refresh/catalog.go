package refresh

import (
	"strings"

	"github.com/samber/lo"
)

// DefaultBaseURL hosts the ggml builds of the whisper.cpp models.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// Model is one downloadable whisper.cpp preset.
type Model struct {
	ID        string
	Name      string
	FileName  string
	SizeLabel string
}

// URL returns the download location of the model under baseURL.
func (m Model) URL(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + m.FileName
}

var catalog = []Model{
	{ID: "tiny", Name: "Tiny (Multilingual)", FileName: "ggml-tiny.bin", SizeLabel: "~75 MB"},
	{ID: "tiny.en", Name: "Tiny (English)", FileName: "ggml-tiny.en.bin", SizeLabel: "~75 MB"},
	{ID: "base", Name: "Base (Multilingual)", FileName: "ggml-base.bin", SizeLabel: "~142 MB"},
	{ID: "base.en", Name: "Base (English)", FileName: "ggml-base.en.bin", SizeLabel: "~142 MB"},
	{ID: "small", Name: "Small (Multilingual)", FileName: "ggml-small.bin", SizeLabel: "~466 MB"},
	{ID: "small.en-tdrz", Name: "Small (English, speaker turns)", FileName: "ggml-small.en-tdrz.bin", SizeLabel: "~465 MB"},
	{ID: "medium", Name: "Medium (Multilingual)", FileName: "ggml-medium.bin", SizeLabel: "~1.5 GB"},
	{ID: "large-v3", Name: "Large v3", FileName: "ggml-large-v3.bin", SizeLabel: "~2.9 GB"},
	{ID: "large-v3-turbo", Name: "Large v3 Turbo", FileName: "ggml-large-v3-turbo.bin", SizeLabel: "~1.6 GB"},
}

// Models returns a copy of the built-in presets.
func Models() []Model {
	models := make([]Model, len(catalog))
	copy(models, catalog)
	return models
}

// Lookup finds a preset by id.
func Lookup(id string) (Model, bool) {
	id = strings.TrimSpace(id)
	return lo.Find(catalog, func(m Model) bool {
		return m.ID == id
	})
}
