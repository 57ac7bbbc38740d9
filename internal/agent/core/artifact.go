package core

import (
	"github.com/parallaxsearch/parallax/internal/artifact"
)

// extractArtifacts scans successful tool results for renderable data.
// Adapters that produce structured output attach it under the
// "artifact" key as typed artifact data; results that expose a plain
// labels/values pair are promoted to a single-series chart.
func extractArtifacts(calls []ToolCall, question string) []artifact.Data {
	var out []artifact.Data
	for _, call := range calls {
		if !call.Succeeded() || call.Result.Data == nil {
			continue
		}
		if v, ok := call.Result.Data["artifact"]; ok {
			switch d := v.(type) {
			case artifact.ChartData:
				out = append(out, d)
			case artifact.TableData:
				out = append(out, d)
			}
			continue
		}
		if chart, ok := detectSeries(call.Result.Data, question); ok {
			out = append(out, chart)
		}
	}
	return out
}

// detectSeries recognizes a labels/values pair of equal length in a
// result's data map.
func detectSeries(data map[string]interface{}, title string) (artifact.ChartData, bool) {
	labels := toStrings(data["labels"])
	values := toFloats(data["values"])
	if len(labels) == 0 || len(labels) != len(values) {
		return artifact.ChartData{}, false
	}
	return artifact.ChartData{
		Title:  title,
		Labels: labels,
		Series: []artifact.Series{{Name: "values", Points: values}},
	}, true
}

func toStrings(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

func toFloats(v interface{}) []float64 {
	switch vv := v.(type) {
	case []float64:
		return vv
	case []interface{}:
		out := make([]float64, 0, len(vv))
		for _, e := range vv {
			f, ok := e.(float64)
			if !ok {
				return nil
			}
			out = append(out, f)
		}
		return out
	}
	return nil
}
