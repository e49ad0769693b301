package onnx

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// Tokenizer is a BERT-style WordPiece tokenizer built from a Hugging Face
// tokenizer.json vocabulary.
type Tokenizer struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

// maxWordRunes is the longest word WordPiece will try to split; longer
// words become [UNK].
const maxWordRunes = 100

// LoadTokenizer reads the vocabulary from a tokenizer.json file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read tokenizer", goerr.V("path", path))
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, goerr.Wrap(err, "parse tokenizer", goerr.V("path", path))
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer has no vocabulary", goerr.V("path", path))
	}
	return NewTokenizer(tokenizerData.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer over vocab. Special token ids fall back to
// the bert-base-uncased values when absent from vocab.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	special := func(tok string, def int64) int64 {
		if id, ok := vocab[tok]; ok {
			return int64(id)
		}
		return def
	}
	return &Tokenizer{
		vocab: vocab,
		cls:   special("[CLS]", 101),
		sep:   special("[SEP]", 102),
		unk:   special("[UNK]", 100),
	}
}

// Tokenize converts text to WordPiece token ids without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// Encode returns input ids and attention mask padded to maxLen, with [CLS]
// and [SEP] around the (truncated) tokens.
func (t *Tokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)
	ids[0], mask[0] = t.cls, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = t.sep, 1
	return ids, mask
}

// splitWords splits on whitespace and isolates punctuation and CJK
// characters, as BERT's basic tokenizer does.
func splitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPiece greedily matches the longest vocabulary prefix, continuing with
// "##" pieces. A word that cannot be fully covered is a single [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{int64(id)}
	}
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []int64{t.unk}
	}

	var pieces []int64
	for start := 0; start < len(runes); {
		found := false
		for end := len(runes); end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, int64(id))
				start = end
				found = true
				break
			}
		}
		if !found {
			return []int64{t.unk}
		}
	}
	return pieces
}
