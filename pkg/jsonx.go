package pkg

import "github.com/bytedance/sonic"

var wireJSON = sonic.ConfigStd

func unmarshalWire(data []byte, v interface{}) error {
	return wireJSON.Unmarshal(data, v)
}
