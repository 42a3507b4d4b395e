package utils

import (
	"errors"
	"regexp"
)

const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

const DefaultChunkSize = 1 * MB
const DefaultSaveInterval = 1 * GB
const DefaultWorkers = 8
const DefaultSegmentRetries = 3
const DefaultServer = "https://api.gdc.cancer.gov"
const DefaultBufferSize = 1024 * 64 // 64KB read buffer for plain streams
const LogFile = ".gdc-client.log"

// Files below 1% of a GB are fetched by a single worker. GB/100 truncates
// 10737418.24, so the first size that gets the pool is one past it.
const SerialThreshold = GB/100 + 1

const PartialSuffix = ".partial"
const StateSuffix = ".parcel"
const AuthHeader = "X-Auth-Token"
const ToolUserAgent = "gdc-client-go"

var (
	ErrTransport       = errors.New("transport error")
	ErrChecksum        = errors.New("checksum error")
	ErrMissingChecksum = errors.New("missing checksum")
	ErrPermission      = errors.New("permission error")
	ErrFilesystem      = errors.New("filesystem error")
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)
var md5HexRegex = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
