package term

// Wire tags from the Erlang external term format, table in spec.md §4.1.
const (
	tagVersion = 131

	tagSmallInt    = 97
	tagInt         = 98
	tagSmallBig    = 110
	tagLargeBig    = 111
	tagNewFloat    = 70
	tagAtom        = 100  // Latin-1, 2-byte length ("ATOM_EXT")
	tagSmallAtomUTF8 = 119 // 1-byte length
	tagAtomUTF8    = 118  // 2-byte length
	tagSmallTuple  = 104
	tagLargeTuple  = 105
	tagNil         = 106
	tagString      = 107
	tagList        = 108
	tagBinary      = 109
	tagBitBinary   = 77
	tagMap         = 116
	tagPid         = 103 // classic, 1-byte creation
	tagNewPid      = 88  // 4-byte creation
	tagPort        = 102
	tagNewPort     = 89
	tagReference   = 101 // classic REFERENCE_EXT, single id
	tagNewReference = 114 // up to 3 ids, 1-byte creation
	tagNewerReference = 90 // up to 3 ids, 4-byte creation
	tagFun         = 112
	tagNewFun      = 117
	tagExport      = 113
	tagCompressed  = 80
)
