package httptransport

import "expvar"

var (
	metricPublicQueryTotal  = expvar.NewInt("public_query_total")
	metricPublicQueryErrors = expvar.NewInt("public_query_errors_total")
)
