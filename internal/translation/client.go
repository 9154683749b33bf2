package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is one target language's translation.
type Result struct {
	Primary          string   `json:"primary"`
	Alternatives     []string `json:"alternatives,omitempty"`
	DetectedLanguage string   `json:"detectedLanguage,omitempty"`
}

type Client struct {
	base string
	http *http.Client
}

func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Translate requests translations for text into targets.
// It calls the translation endpoint once per target using the LibreTranslate
// compatible payload (q, source, target, format, alternatives).
func (c *Client) Translate(ctx context.Context, text string, source string, targets []string, altLimit int) (map[string]Result, error) {
	out := make(map[string]Result, len(targets))
	if c == nil || c.base == "" || len(targets) == 0 || strings.TrimSpace(text) == "" {
		return out, nil
	}

	src := strings.TrimSpace(source)
	if src == "" {
		src = "auto"
	}
	for _, tgt := range targets {
		if tgt == src {
			continue
		}
		res, err := c.translateOne(ctx, text, src, tgt, altLimit)
		if err != nil {
			return out, err
		}
		out[tgt] = res
	}
	return out, nil
}

func (c *Client) translateOne(ctx context.Context, text, src, tgt string, altLimit int) (Result, error) {
	payload := map[string]any{
		"q":      text,
		"source": src,
		"target": tgt,
		"format": "text",
	}
	if altLimit > 0 {
		payload["alternatives"] = altLimit
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("translation http %d for target %s", resp.StatusCode, tgt)
	}

	var lr struct {
		TranslatedText   string   `json:"translatedText"`
		Alternatives     []string `json:"alternatives"`
		DetectedLanguage any      `json:"detectedLanguage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Result{}, fmt.Errorf("decode translation: %w", err)
	}

	res := Result{Primary: strings.TrimSpace(lr.TranslatedText)}
	for _, a := range lr.Alternatives {
		if s := strings.TrimSpace(a); s != "" {
			res.Alternatives = append(res.Alternatives, s)
		}
	}
	// LibreTranslate sends {"language": "es", "confidence": 90} for source=auto
	switch v := lr.DetectedLanguage.(type) {
	case string:
		res.DetectedLanguage = v
	case map[string]any:
		if lang, ok := v["language"].(string); ok {
			res.DetectedLanguage = lang
		}
	}
	return res, nil
}
