package wal

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}
