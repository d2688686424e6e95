package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String("path", path)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(status))
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}

func operationAttr(operation string) attribute.KeyValue {
	return attribute.String("operation", operation)
}

func checkAttr(check string) attribute.KeyValue {
	return attribute.String("check", check)
}

func codeAttr(code string) attribute.KeyValue {
	return attribute.String("code", code)
}

func accessTypeAttr(accessType string) attribute.KeyValue {
	return attribute.String("access_type", accessType)
}

func layerAttr(layer string) attribute.KeyValue {
	return attribute.String("layer", layer)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String("backend", backend)
}
