package gemini

import (
	"fmt"

	"google.golang.org/genai"

	"synthv/pkg/llm"
)

// resolveModel returns the target model name and configuration for the given intent.
func (c *Client) resolveModel(intent string) (string, *genai.GenerateContentConfig) {
	targetModel := c.cfg.TextModel

	if profileModel, ok := c.cfg.Profiles[intent]; ok && profileModel != "" {
		targetModel = profileModel
	}

	cfg := &genai.GenerateContentConfig{}
	if temp, ok := c.cfg.Temperatures[intent]; ok {
		cfg.Temperature = genai.Ptr(temp)
	}

	return targetModel, cfg
}

var schemaTypes = map[llm.SchemaType]genai.Type{
	llm.TypeObject:  genai.TypeObject,
	llm.TypeArray:   genai.TypeArray,
	llm.TypeString:  genai.TypeString,
	llm.TypeInteger: genai.TypeInteger,
	llm.TypeNumber:  genai.TypeNumber,
	llm.TypeBoolean: genai.TypeBoolean,
}

func toGenaiSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaTypes[s.Type],
		Description: s.Description,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	return out
}

func imagesConfig(req llm.ImageRequest) *genai.GenerateImagesConfig {
	n := req.Count
	if n <= 0 {
		n = 1
	}
	return &genai.GenerateImagesConfig{
		NumberOfImages: int32(n),
		AspectRatio:    req.AspectRatio,
		OutputMIMEType: req.MIMEType,
	}
}

// fromVideosOperation maps the SDK handle onto llm.Operation, keeping the original for re-polling.
func fromVideosOperation(op *genai.GenerateVideosOperation) *llm.Operation {
	if op == nil {
		return &llm.Operation{}
	}
	out := &llm.Operation{
		Name: op.Name,
		Done: op.Done,
		Raw:  op,
	}
	if len(op.Error) > 0 {
		out.ErrorMessage = operationErrorMessage(op.Error)
	}
	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 {
		if v := op.Response.GeneratedVideos[0]; v != nil && v.Video != nil {
			out.VideoURI = v.Video.URI
			out.MIMEType = v.Video.MIMEType
		}
	}
	if out.MIMEType == "" {
		out.MIMEType = "video/mp4"
	}
	return out
}

func operationErrorMessage(e map[string]any) string {
	if msg, ok := e["message"].(string); ok && msg != "" {
		return msg
	}
	if code, ok := e["code"]; ok {
		return fmt.Sprintf("operation failed with code %v", code)
	}
	return fmt.Sprintf("%v", e)
}
