package consul

import "errors"

var ErrKeyNotExist = errors.New("consul key does not exist")

type GetServiceAddressResponseItem struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type GetServiceAddressResponse []GetServiceAddressResponseItem
