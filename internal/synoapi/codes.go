package synoapi

import (
	"fmt"
	"strings"
)

// commonCodes are shared by every API family.
var commonCodes = map[int]string{
	100: "Unknown error",
	101: "Invalid parameter",
	102: "The requested API does not exist",
	103: "The requested method does not exist",
	104: "The requested version does not support the functionality",
	105: "The logged in session does not have permission",
	106: "Session timeout",
	107: "Session interrupted by duplicate login",
	108: "Failed to upload the file",
	109: "The network connection is unstable or the system is busy",
	110: "The network connection is unstable or the system is busy",
	111: "The network connection is unstable or the system is busy",
	114: "Lost parameters for this API",
	115: "Not allowed to upload a file",
	116: "Not allowed to perform for a demo site",
	117: "The network connection is unstable or the system is busy",
	118: "The network connection is unstable or the system is busy",
	119: "Invalid session",
	150: "Request source IP does not match the login IP",
}

var authCodes = map[int]string{
	400: "No such account or incorrect password",
	401: "Disabled account",
	402: "Denied permission",
	403: "2-factor authentication code required",
	404: "Failed to authenticate 2-factor authentication code",
	406: "Enforce to authenticate with 2-factor authentication code",
	407: "Blocked IP source",
	408: "Expired password cannot change",
	409: "Expired password",
	410: "Password must be changed",
}

var fileStationCodes = map[int]string{
	400: "Invalid parameter of file operation",
	401: "Unknown error of file operation",
	402: "System is too busy",
	403: "Invalid user does this file operation",
	404: "Invalid group does this file operation",
	405: "Invalid user and group does this file operation",
	406: "Can't get user/group information from the account server",
	407: "Operation not permitted",
	408: "No such file or directory",
	409: "Non-supported file system",
	410: "Failed to connect internet-based file system",
	411: "Read-only file system",
	412: "Filename too long in the non-encrypted file system",
	413: "Filename too long in the encrypted file system",
	414: "File already exists",
	415: "Disk quota exceeded",
	416: "No space left on device",
	417: "Input/output error",
	418: "Illegal name or path",
	419: "Illegal file name",
	420: "Illegal file name on FAT file system",
	421: "Device or resource busy",
	599: "No such task of the file operation",
	900: "Failed to delete file(s)/folder(s)",
	1000: "Failed to copy files/folders",
	1001: "Failed to move files/folders",
	1002: "An error occurred at the destination",
	1003: "Cannot overwrite or skip the existing file",
	1004: "File cannot overwrite a folder with the same name",
	1006: "Cannot copy/move file/folder with special characters to a FAT32 file system",
	1007: "Cannot copy/move a file bigger than 4G to a FAT32 file system",
	1100: "Failed to create a folder",
	1101: "The number of folders to the parent folder would exceed the system limitation",
	1200: "Failed to rename it",
	1800: "There is no Content-Length information in the HTTP header",
	1801: "Wait too long, no date can be received from client",
	1802: "No filename information in the last part of file content",
	1803: "Upload connection is cancelled",
	1804: "Failed to upload oversized file to FAT file system",
	1805: "Can't overwrite or skip the existing file",
}

var downloadStationCodes = map[int]string{
	120: "Invalid task id or task not found",
	400: "File upload failed",
	401: "Max number of tasks reached",
	402: "Destination denied",
	403: "Destination does not exist",
	404: "Invalid task id",
	405: "Invalid task action",
	406: "No default destination",
	407: "Set destination failed",
	408: "File does not exist",
	409: "Task already exists",
	410: "Task already finished",
}

// Describe returns the human-readable meaning of a backend code. The API
// family named in op selects the family-specific table for codes >= 400.
func Describe(op string, code int) string {
	if msg, ok := commonCodes[code]; ok {
		return msg
	}
	var table map[int]string
	switch {
	case strings.HasPrefix(op, APIAuth):
		table = authCodes
	case strings.HasPrefix(op, "SYNO.FileStation"):
		table = fileStationCodes
	case strings.HasPrefix(op, "SYNO.DownloadStation"):
		table = downloadStationCodes
	}
	if msg, ok := table[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error: %d", code)
}
