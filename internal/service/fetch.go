package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/faults"
)

const (
	// Значения по умолчанию.
	defaultFetchTimeout = 30 * time.Second
	maxResponseBody     = 10 * 1024 * 1024 // 10 MB
	defaultRecordCount  = 24
)

// Ключи input для fetch_records.
const (
	inputSourceURL = "source_url"
	inputPeriod    = "period"
	inputHeaders   = "headers"
)

// FetchCapability — выборка данных tenant'а.
//
// Если в input задан source_url, записи запрашиваются по HTTP
// (ожидается JSON массив). Иначе генерируется детерминированный
// набор записей по tenant и периоду — для стендов без источника.
//
// Output:
//
//	{
//	    "records": [...],
//	    "record_count": 24,
//	    "source": "http" | "synthetic"
//	}
type FetchCapability struct {
	client *http.Client
}

// NewFetchCapability создаёт новую FetchCapability.
func NewFetchCapability() *FetchCapability {
	return &FetchCapability{
		client: &http.Client{
			Timeout: defaultFetchTimeout,
		},
	}
}

// Name возвращает имя capability.
func (c *FetchCapability) Name() string {
	return CapabilityFetchRecords
}

// Invoke выполняет выборку записей.
func (c *FetchCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	url := InputString(inv.Input, inputSourceURL)
	if url == "" {
		return c.synthesize(inv), nil
	}

	records, err := c.fetch(ctx, url, inv)
	if err != nil {
		return nil, err
	}

	return NewResult(map[string]any{
		"records":      records,
		"record_count": len(records),
		"source":       "http",
	}), nil
}

// fetch запрашивает записи по HTTP.
func (c *FetchCapability) fetch(ctx context.Context, url string, inv *Invocation) ([]any, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, faults.Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", inv.TenantID.String())
	for key, value := range inputHeaderMap(inv.Input) {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Сетевые сбои считаем временными
		return nil, faults.Transient(fmt.Errorf("fetch records: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("read response body: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, faults.Transientf("source returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, faults.Permanentf("source returned HTTP %d", resp.StatusCode)
	}

	var records []any
	if err := json.Unmarshal(body, &records); err != nil {
		// Источник отвечает не тем форматом — повтор не поможет
		return nil, faults.Permanent(fmt.Errorf("parse records: %w", err))
	}

	return records, nil
}

// inputHeaderMap извлекает дополнительные заголовки из input.
func inputHeaderMap(input map[string]any) map[string]string {
	raw, ok := input[inputHeaders].(map[string]any)
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

// synthesize генерирует детерминированный набор записей.
// Одинаковые tenant и период всегда дают одинаковые данные, что
// делает повторную обработку request'а воспроизводимой.
func (c *FetchCapability) synthesize(inv *Invocation) *Result {
	period := InputString(inv.Input, inputPeriod)
	seed := recordSeed(inv.TenantID.String(), period)

	count := InputInt(inv.Input, "record_count")
	if count <= 0 {
		count = defaultRecordCount
	}

	notes := []string{
		"revenue growth in core segment",
		"churn spike after pricing change",
		"support backlog cleared",
		"new enterprise deal closed",
		"latency regression on checkout",
		"marketing campaign conversion up",
	}

	records := make([]any, count)
	for i := 0; i < count; i++ {
		// Простой LCG поверх seed — без глобального rand
		seed = seed*6364136223846793005 + 1442695040888963407
		value := float64(seed%10000)/100 + float64(i)

		records[i] = map[string]any{
			"index":  i,
			"value":  value,
			"note":   notes[int(seed%uint64(len(notes)))],
			"period": periodLabel(period, i, count),
		}
	}

	return NewResult(map[string]any{
		"records":      records,
		"record_count": count,
		"source":       "synthetic",
	})
}

// recordSeed строит seed из tenant и периода.
func recordSeed(tenant, period string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(tenant))
	h.Write([]byte(period))
	return h.Sum64()
}

// periodLabel помечает первую половину записей как previous,
// вторую — как current. Используется comparative_analysis.
func periodLabel(period string, i, count int) string {
	label := "current"
	if i < count/2 {
		label = "previous"
	}
	if period != "" {
		return period + ":" + label
	}
	return label
}

// recordValues извлекает числовые значения из записей.
// Запись может быть map с полем value либо числом напрямую.
func recordValues(records []any) []float64 {
	values := make([]float64, 0, len(records))
	for _, r := range records {
		switch v := r.(type) {
		case map[string]any:
			if f, ok := InputFloat(v, "value"); ok {
				values = append(values, f)
			}
		case float64:
			values = append(values, v)
		case int:
			values = append(values, float64(v))
		}
	}
	return values
}

// recordNotes извлекает текстовые поля из записей.
func recordNotes(records []any) []string {
	notes := make([]string, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"note", "text", "comment"} {
			if s := InputString(m, key); s != "" {
				notes = append(notes, strings.ToLower(s))
				break
			}
		}
	}
	return notes
}

// upstreamRecords достаёт записи из output'а data_retrieval.
func upstreamRecords(inv *Invocation) ([]any, error) {
	out := inv.Upstream(domain.DeptDataRetrieval)
	if out == nil {
		return nil, fmt.Errorf("%w: missing data_retrieval output", ErrInvalidInput)
	}
	records := InputSlice(out, "records")
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
