package exchange

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента шлюза.
// Пул соединений переиспользуется между попытками и эндпоинтами:
// keep-alive заметно снижает латентность повторных запросов к бирже.
type HTTPClientConfig struct {
	// Таймауты
	ConnectTimeout      time.Duration // установка TCP соединения (default: 5s)
	TLSHandshakeTimeout time.Duration // TLS handshake (default: 5s)
	ResponseTimeout     time.Duration // ожидание заголовков ответа (default: 15s)

	// Connection pooling
	MaxIdleConns        int           // максимум idle соединений (default: 100)
	MaxIdleConnsPerHost int           // максимум idle соединений на хост (default: 10)
	IdleConnTimeout     time.Duration // таймаут простоя соединения (default: 90s)

	// ProxyURL - опциональный HTTPS прокси (переменная окружения HTTPS_PROXY)
	ProxyURL string
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ResponseTimeout:     15 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient создаёт http.Client с пулом соединений для работы с биржей.
// Общий таймаут операции задаётся контекстом каждого запроса, а не клиентом.
func NewHTTPClient(config HTTPClientConfig) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Transport: transport}, nil
}
