package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/Conveyor/internal/engine"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPNode — node типа "http": выполняет HTTP-запрос.
//
// Config:
//   - method (string): HTTP-метод (GET, POST, PUT, DELETE). Default: GET
//   - url (string): URL для запроса (обязательно)
//   - headers (map[string]any): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON); если не задано,
//     берётся входной порт "body"
//   - timeout_sec (number): таймаут запроса в секундах. Default: 30
//
// Outputs:
//   - status_code (int): HTTP-код ответа
//   - headers (map[string]string): заголовки ответа
//   - body (any): тело ответа (JSON или строка)
//
// HTTP >= 400 — логическая ошибка: outputs сохраняются, граф может
// обработать её через error-порт.
type HTTPNode struct {
	client *http.Client
}

// NewHTTPNode создаёт http node. При client == nil используется
// клиент по умолчанию.
func NewHTTPNode(client *http.Client) *HTTPNode {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPNode{client: client}
}

// Type возвращает тип node.
func (n *HTTPNode) Type() string { return "http" }

// Execute выполняет HTTP-запрос.
func (n *HTTPNode) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	method := GetConfigString(req.Config, "method", http.MethodGet)
	url := GetConfigString(req.Config, "url", "")
	if url == "" {
		return engine.Result{}, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, GetConfigDuration(req.Config, "timeout_sec", defaultHTTPTimeout))
	defer cancel()

	body, ok := req.Config["body"]
	if !ok {
		body = req.Inputs["body"]
	}
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return engine.Result{}, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return engine.Result{}, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	setHeaders(httpReq, req.Config)

	// Content-Type по умолчанию для запросов с body
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return engine.Result{}, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.Result{}, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	outputs := buildOutputs(resp, respBody)

	// HTTP >= 400 — логическая ошибка (outputs сохраняются для error-route)
	if resp.StatusCode >= 400 {
		return engine.Result{
			Outputs: outputs,
			Error:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}, nil
	}

	return engine.Result{Success: true, Outputs: outputs}, nil
}

// buildOutputs формирует outputs из HTTP-ответа.
func buildOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Парсим body: пробуем JSON, иначе строка
	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

// setHeaders устанавливает заголовки из конфигурации.
func setHeaders(req *http.Request, config map[string]any) {
	headers, ok := config["headers"]
	if !ok || headers == nil {
		return
	}

	switch h := headers.(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
