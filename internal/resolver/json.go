package resolver

import "encoding/json"

func encodeActiveContext(ctx *ActiveContext) ([]byte, error) {
	return json.Marshal(ctx)
}

func decodeActiveContext(raw []byte) (*ActiveContext, error) {
	var ctx ActiveContext
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, err
	}
	return &ctx, nil
}
