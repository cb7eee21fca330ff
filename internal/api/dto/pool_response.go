package dto

import "deepagg/internal/domain"

type BestProxyResponse struct {
	Proxy *domain.ProxyHealthResult `json:"proxy"`
}

// PoolMetrics is the compact pool summary; T is the last refresh in unix milliseconds.
type PoolMetrics struct {
	T      int64 `json:"t"`
	Raw    int   `json:"raw"`
	Tested int   `json:"tested"`
	Best   int   `json:"best"`
}

type PoolHistoryResponse struct {
	Refreshes []domain.PoolRefresh `json:"refreshes"`
}
