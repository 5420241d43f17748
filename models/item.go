package models

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// 物品內容對引擎來說是不透明的，只有交付物品的外部系統知道它的結構。
// 引擎只負責在上架時收下序列化後的內容，並在結算時原封不動地交還。

// EncodeItem 將任意的物品資料序列化為不透明的二進位內容
func EncodeItem(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return data, nil
}

// DecodeItem 將二進位內容還原為物品資料
func DecodeItem(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return v, nil
}
