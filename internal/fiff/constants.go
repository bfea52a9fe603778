package fiff

// Tag kinds.
const (
	KindFileID      int32 = 100
	KindDirPointer  int32 = 101
	KindDir         int32 = 102
	KindBlockID     int32 = 103
	KindBlockStart  int32 = 104
	KindBlockEnd    int32 = 105
	KindNop         int32 = 108
	KindParentFile  int32 = 109
	KindParentBlock int32 = 110

	KindNChan       int32 = 200
	KindSFreq       int32 = 201
	KindChInfo      int32 = 203
	KindMeasDate    int32 = 204
	KindSubject     int32 = 205
	KindComment     int32 = 206
	KindNAve        int32 = 207
	KindFirstSample int32 = 208
	KindLastSample  int32 = 209
	KindAspectKind  int32 = 210

	KindDataBuffer int32 = 300
	KindDataSkip   int32 = 301
	KindEpoch      int32 = 302

	KindName            int32 = 3
	KindProjItemKind    int32 = 3411
	KindProjItemNVec    int32 = 3414
	KindProjItemVectors int32 = 3415
	KindProjItemActive  int32 = 3416
	KindProjItemChNames int32 = 3417

	KindMNERowNames         int32 = 3502
	KindMNEColNames         int32 = 3503
	KindMNENRow             int32 = 3504
	KindMNENCol             int32 = 3505
	KindMNECoordFrame       int32 = 3506
	KindMNEChNameList       int32 = 3507
	KindMNEFileName         int32 = 3508
	KindMNEEventList        int32 = 3509
	KindMNESourceSpaceID    int32 = 3510
	KindMNESourcePoints     int32 = 3511
	KindMNESourceNormals    int32 = 3512
	KindMNESourceNPoints    int32 = 3513
	KindMNESourceSelection  int32 = 3514
	KindMNESourceNUse       int32 = 3515
	KindMNESourceType       int32 = 3520
	KindMNEForwardSolution  int32 = 3560
	KindMNESourceOri        int32 = 3561
	KindMNEIncludedMethods  int32 = 3562
	KindMNECovKind          int32 = 3580
	KindMNECovDim           int32 = 3581
	KindMNECov              int32 = 3582
	KindMNECovDiag          int32 = 3583
	KindMNECovNFree         int32 = 3586
	KindMNEInverseLeads     int32 = 3590
	KindMNEInverseFields    int32 = 3591
	KindMNEInverseSing      int32 = 3592
	KindMNEPriorsUsed       int32 = 3593
	KindMNEInverseSourceOri int32 = 3595
	KindMNEInverseMethod    int32 = 3597
	KindMNEBaselineMin      int32 = 3600
	KindMNEBaselineMax      int32 = 3601
	KindMNEEventMapping     int32 = 3604
	KindMNEDepthPrior       int32 = 3605
	KindMNEWhitener         int32 = 3606
	KindMNESubject          int32 = 3607
	KindMNEDepthExponent    int32 = 3608
)

// Block kinds.
const (
	BlockRoot           int32 = 999
	BlockMeas           int32 = 100
	BlockMeasInfo       int32 = 101
	BlockRawData        int32 = 102
	BlockProcessedData  int32 = 103
	BlockEvoked         int32 = 104
	BlockAspect         int32 = 105
	BlockContinuousData int32 = 112
	BlockProj           int32 = 313
	BlockProjItem       int32 = 314

	BlockMNE                int32 = 350
	BlockMNESourceSpace     int32 = 351
	BlockMNEForwardSolution int32 = 352
	BlockMNEParentMeasFile  int32 = 354
	BlockMNECov             int32 = 355
	BlockMNEInverseSolution int32 = 356
	BlockMNENamedMatrix     int32 = 357
	BlockMNEBadChannels     int32 = 359
	BlockMNEEpochs          int32 = 373
	BlockMNEAnnotations     int32 = 3613
)

// Payload types.
const (
	TypeVoid       int32 = 0
	TypeByte       int32 = 1
	TypeShort      int32 = 2
	TypeInt        int32 = 3
	TypeFloat      int32 = 4
	TypeDouble     int32 = 5
	TypeString     int32 = 10
	TypeChInfo     int32 = 30
	TypeIDStruct   int32 = 31
	TypeDirEntry   int32 = 32
	TypeMatrix     int32 = 0x40000000
	TypeMatrixMask int32 = 0x7FFF0000
	TypeBaseMask   int32 = 0x0000FFFF

	TypeMatrixInt    = TypeMatrix | TypeInt
	TypeMatrixFloat  = TypeMatrix | TypeFloat
	TypeMatrixDouble = TypeMatrix | TypeDouble
)

// Channel kinds.
const (
	ChMEG    int32 = 1
	ChEEG    int32 = 2
	ChStim   int32 = 3
	ChMCG    int32 = 201
	ChEOG    int32 = 202
	ChRefMEG int32 = 301
	ChEMG    int32 = 302
	ChECG    int32 = 402
	ChMisc   int32 = 502
	ChResp   int32 = 602
	ChSEEG   int32 = 802
	ChECoG   int32 = 902
)

// Miscellaneous values.
const (
	NextSeq  int32 = 0
	NextNone int32 = -1

	AspectAverage int32 = 100

	SourceOriFixed int32 = 1
	SourceOriFree  int32 = 2

	MethodMEG int32 = 1
	MethodEEG int32 = 2

	CoordHead int32 = 4
	CoordMRI  int32 = 5

	CovNoise  int32 = 1
	CovSource int32 = 2

	SourceSpaceSurface int32 = 1
	SourceSpaceVolume  int32 = 2

	HemiLeft  int32 = 101
	HemiRight int32 = 102

	ProjAverageEEGRef int32 = 10
	ProjFieldVector   int32 = 1
)
