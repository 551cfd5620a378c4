package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var loaderOnce sync.Once

// TiktokenCounter counts tokens with the BPE vocabulary of the requested
// model. Vocabularies come from the embedded offline loader, so counting
// never touches the network. Encodings are cached per model id.
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewTiktokenCounter() *TiktokenCounter {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	return &TiktokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Count fails for model ids tiktoken has no encoding for.
func (c *TiktokenCounter) Count(text, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (c *TiktokenCounter) encoding(model string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("encoding for model %q: %w", model, err)
	}
	c.encodings[model] = enc
	return enc, nil
}
