package compression

import "github.com/prometheus/client_golang/prometheus"

var (
	// compressBytesIn tracks payload bytes handed to Compress by algorithm
	compressBytesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_compression_compress_bytes_in_total",
		Help: "Total uncompressed bytes submitted for compression",
	}, []string{"type"})

	// compressBytesOut tracks compressed bytes produced by algorithm
	compressBytesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_compression_compress_bytes_out_total",
		Help: "Total compressed bytes produced",
	}, []string{"type"})

	// decompressBytesIn tracks compressed bytes handed to Decompress by algorithm
	decompressBytesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_compression_decompress_bytes_in_total",
		Help: "Total compressed bytes submitted for decompression",
	}, []string{"type"})

	// decompressBytesOut tracks bytes recovered by Decompress by algorithm
	decompressBytesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_compression_decompress_bytes_out_total",
		Help: "Total bytes recovered by decompression",
	}, []string{"type"})

	// compressionErrors tracks failed operations by direction
	compressionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_compression_errors_total",
		Help: "Total failed compression operations by direction",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(compressBytesIn)
	prometheus.MustRegister(compressBytesOut)
	prometheus.MustRegister(decompressBytesIn)
	prometheus.MustRegister(decompressBytesOut)
	prometheus.MustRegister(compressionErrors)
}
