package model

import "time"

const FilePurposeFineTune = "fine-tune"

// RemoteFile references content stored by the provider.
type RemoteFile struct {
	ID        string
	Filename  string
	Purpose   string
	Bytes     int64
	CreatedAt time.Time
}
