package framework

const DRABI = drABI

var TestRegistry = testRegistry
