package localmodel

import "fmt"

const defaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Variant is one downloadable whisper.cpp ggml model.
type Variant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FileName  string `json:"file_name"`
	SizeLabel string `json:"size_label"`
}

var catalog = []Variant{
	{ID: "tiny.en", Name: "Tiny (English)", FileName: "ggml-tiny.en.bin", SizeLabel: "~75 MB"},
	{ID: "tiny", Name: "Tiny (Multilingual)", FileName: "ggml-tiny.bin", SizeLabel: "~75 MB"},
	{ID: "base.en", Name: "Base (English)", FileName: "ggml-base.en.bin", SizeLabel: "~142 MB"},
	{ID: "base", Name: "Base (Multilingual)", FileName: "ggml-base.bin", SizeLabel: "~142 MB"},
	{ID: "small.en", Name: "Small (English)", FileName: "ggml-small.en.bin", SizeLabel: "~466 MB"},
	{ID: "small", Name: "Small (Multilingual)", FileName: "ggml-small.bin", SizeLabel: "~466 MB"},
}

// Catalog returns the supported variants, smallest first.
func Catalog() []Variant {
	return append([]Variant(nil), catalog...)
}

// Lookup finds a variant by ID.
func Lookup(id string) (Variant, error) {
	for _, v := range catalog {
		if v.ID == id {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("unknown model variant %q", id)
}
