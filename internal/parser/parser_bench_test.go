package parser

import (
	"testing"
)

const (
	// Sample latency lines for benchmarking
	sampleJSONLine  = `{"timestamp":"2024-01-15T10:30:45Z","latency_ms":120.5,"source":"https://example.com"}`
	sampleCSVLine   = `120.5,2024-01-15T10:30:45Z,https://example.com`
	samplePlainLine = `2024-01-15T10:30:45Z 120.5ms`
)

// BenchmarkJSONParser measures JSON line parsing speed
func BenchmarkJSONParser(b *testing.B) {
	parser := &JSONParser{}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := parser.Parse(sampleJSONLine)
		if err != nil {
			b.Fatalf("Parse error: %v", err)
		}
	}
}

// BenchmarkCSVParser measures CSV line parsing speed
func BenchmarkCSVParser(b *testing.B) {
	parser := &CSVParser{}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := parser.Parse(sampleCSVLine)
		if err != nil {
			b.Fatalf("Parse error: %v", err)
		}
	}
}

// BenchmarkPlainParser measures plain line parsing speed
func BenchmarkPlainParser(b *testing.B) {
	parser := &PlainParser{}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := parser.Parse(samplePlainLine)
		if err != nil {
			b.Fatalf("Parse error: %v", err)
		}
	}
}

// BenchmarkParserComparison compares all formats
func BenchmarkParserComparison(b *testing.B) {
	cases := []struct {
		name   string
		format string
		line   string
	}{
		{"JSON", "json", sampleJSONLine},
		{"CSV", "csv", sampleCSVLine},
		{"Plain", "plain", samplePlainLine},
	}

	for _, bc := range cases {
		b.Run(bc.name, func(b *testing.B) {
			parser := NewParser(bc.format)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := parser.Parse(bc.line); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
