package sftp

// SFTPv3 packet type bytes.
//
// https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt#section-3
const (
	sshFxpInit     = 1
	sshFxpVersion  = 2
	sshFxpOpen     = 3
	sshFxpClose    = 4
	sshFxpRead     = 5
	sshFxpWrite    = 6
	sshFxpLstat    = 7
	sshFxpFstat    = 8
	sshFxpSetstat  = 9
	sshFxpFsetstat = 10
	sshFxpOpendir  = 11
	sshFxpReaddir  = 12
	sshFxpRemove   = 13
	sshFxpMkdir    = 14
	sshFxpRmdir    = 15
	sshFxpRealpath = 16
	sshFxpStat     = 17
	sshFxpRename   = 18
	sshFxpReadlink = 19
	sshFxpSymlink  = 20

	sshFxpStatus = 101
	sshFxpHandle = 102
	sshFxpData   = 103
	sshFxpName   = 104
	sshFxpAttrs  = 105

	sshFxpExtended      = 200
	sshFxpExtendedReply = 201
)

// SFTPv3 status codes, conveyed in a STATUS packet.
const (
	sshFxOk               = 0
	sshFxEOF              = 1
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxFailure          = 4
	sshFxBadMessage       = 5
	sshFxNoConnection     = 6
	sshFxConnectionLost   = 7
	sshFxOPUnsupported    = 8

	// sshFxFileIsADirectory is not part of the v3 draft; some servers
	// (serv-u, and others following later drafts) return it anyway.
	// Treated defensively, never sent by this client.
	sshFxFileIsADirectory = 18
)

// SSH_FXF_* open flags, a bitset carried in the OPEN request.
const (
	sshFxfRead   = 0x00000001
	sshFxfWrite  = 0x00000002
	sshFxfAppend = 0x00000004
	sshFxfCreat  = 0x00000008
	sshFxfTrunc  = 0x00000010
	sshFxfExcl   = 0x00000020
)
