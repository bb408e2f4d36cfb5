package dispatcher

import "encoding/json"

// JSONCodec is the default Codec: task payloads are self-describing JSON
// envelopes rather than a generated schema, since these payloads never
// cross a wire boundary outside this process's own enqueue/dispatch pair.
type JSONCodec struct{}

func (JSONCodec) DecodeWorkflowTask(data []byte) (*WorkflowTaskPayload, error) {
	var p WorkflowTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (JSONCodec) DecodeActivityTask(data []byte) (*ActivityTaskPayload, error) {
	var p ActivityTaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeResult packages an invocation's result and error into an opaque
// envelope suitable for EventData; err, if non-nil, is recorded as its
// message rather than its type, since only the workflow function's own
// application error taxonomy is meaningful to a replaying workflow.
func (JSONCodec) EncodeResult(result []byte, err error) []byte {
	envelope := struct {
		Result []byte `json:"result,omitempty"`
		Error  string `json:"error,omitempty"`
	}{Result: result}
	if err != nil {
		envelope.Error = err.Error()
	}
	out, _ := json.Marshal(envelope)
	return out
}

// EncodeWorkflowTask is the enqueue-side counterpart to DecodeWorkflowTask,
// used by callers constructing a persistence.TaskQueueItem's TaskData.
func EncodeWorkflowTask(p *WorkflowTaskPayload) ([]byte, error) {
	return json.Marshal(p)
}

// EncodeActivityTask is the enqueue-side counterpart to DecodeActivityTask.
func EncodeActivityTask(p *ActivityTaskPayload) ([]byte, error) {
	return json.Marshal(p)
}

var _ Codec = JSONCodec{}
