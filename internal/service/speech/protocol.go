// Package speech relays the ISI streaming synthesis protocol: a three-step
// control sequence over a WebSocket whose response interleaves binary audio
// frames with JSON control events.
package speech

import (
	"strings"

	"github.com/google/uuid"
)

const synthesizerNamespace = "FlowingSpeechSynthesizer"

// Control message names sent by us and terminal events sent by the provider.
const (
	nameStartSynthesis = "StartSynthesis"
	nameRunSynthesis   = "RunSynthesis"
	nameStopSynthesis  = "StopSynthesis"

	eventSynthesisCompleted = "SynthesisCompleted"
	eventTaskFailed         = "TaskFailed"
)

// envelopeHeader 是 ISI 控制消息的公共头。task_id 在一次合成内共享，
// message_id 每条消息重新生成。
type envelopeHeader struct {
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	AppKey    string `json:"appkey"`
}

type envelope struct {
	Header  envelopeHeader `json:"header"`
	Payload map[string]any `json:"payload,omitempty"`
}

func newEnvelope(taskID, name, appKey string, payload map[string]any) envelope {
	return envelope{
		Header: envelopeHeader{
			MessageID: hexID(),
			TaskID:    taskID,
			Namespace: synthesizerNamespace,
			Name:      name,
			AppKey:    appKey,
		},
		Payload: payload,
	}
}

// controlEvent is the subset of provider text frames the relay cares about.
// Unknown names are ignored for forward compatibility.
type controlEvent struct {
	Header struct {
		Name       string `json:"name"`
		Status     int    `json:"status"`
		StatusText string `json:"status_text"`
		TaskID     string `json:"task_id"`
	} `json:"header"`
}

// hexID 生成协议要求的无连字符十六进制标识。
func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
