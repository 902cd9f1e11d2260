// Package xt models the PC/XT peripheral set a BIOS pokes during POST: the
// interrupt controllers, interval timer, DMA controller, MDA/CGA adapters,
// keyboard, floppy controller and speaker, plus the debug ports used by
// small guest programs.
package xt

// Legacy I/O ports served by the board.
const (
	PortStringPrint   uint16 = 0x0000
	PortKeyboardInput uint16 = 0x0001
	PortPITCommand    uint16 = 0x0008
	PortDMAMask       uint16 = 0x000A
	PortDMAMode       uint16 = 0x000B
	PortDMAClear      uint16 = 0x000C
	PortDMATemp       uint16 = 0x000D
	PortPICMasterCmd  uint16 = 0x0020
	PortPICMasterData uint16 = 0x0021
	PortPITCounter0   uint16 = 0x0040
	PortPITCounter1   uint16 = 0x0041
	PortPITCounter2   uint16 = 0x0042
	PortPITControl    uint16 = 0x0043
	PortKbdData       uint16 = 0x0060
	PortSysCtrl       uint16 = 0x0061
	PortSysPortC      uint16 = 0x0062
	PortTimerMisc     uint16 = 0x0063
	PortKbdStatus     uint16 = 0x0064
	PortPOST          uint16 = 0x0080
	PortDMAPage1      uint16 = 0x0081
	PortDMAPage3      uint16 = 0x0083
	PortPICSlaveCmd   uint16 = 0x00A0
	PortPICSlaveData  uint16 = 0x00A1
	PortVideoMiscB8   uint16 = 0x00B8
	PortDiskData      uint16 = 0x00FF
	Port0201          uint16 = 0x0201
	Port0210          uint16 = 0x0210
	Port0213          uint16 = 0x0213
	Port0278          uint16 = 0x0278
	Port02FA          uint16 = 0x02FA
	Port0378          uint16 = 0x0378
	Port03BC          uint16 = 0x03BC
	Port03FA          uint16 = 0x03FA
	PortMDAIndex      uint16 = 0x03B4
	PortMDAData       uint16 = 0x03B5
	PortMDAMode       uint16 = 0x03B8
	PortMDAAttr       uint16 = 0x03B9
	PortCGAIndex      uint16 = 0x03D4
	PortCGAData       uint16 = 0x03D5
	PortCGAMode       uint16 = 0x03D8
	PortCGAAttr       uint16 = 0x03D9
	PortCGAStatus     uint16 = 0x03DA
	PortFDCDOR        uint16 = 0x03F2
	PortFDCStatus     uint16 = 0x03F4
	PortFDCData       uint16 = 0x03F5

	dmaChannelBase  uint16 = 0x0002
	dmaChannelCount        = 6
)

// portNames maps the served ports to the names used in traces and the port
// log.
var portNames = map[uint16]string{
	PortStringPrint:   "STRING_PRINT",
	PortKeyboardInput: "KEYBOARD_INPUT",
	PortPITCommand:    "PIT_CMD",
	PortDMAMask:       "DMA_MASK",
	PortDMAMode:       "DMA_MODE",
	PortDMAClear:      "DMA_CLEAR",
	PortDMATemp:       "DMA_TEMP",
	PortPICMasterCmd:  "PIC_MASTER_CMD",
	PortPICMasterData: "PIC_MASTER_DATA",
	PortPITCounter0:   "PIT_COUNTER0",
	PortPITCounter1:   "PIT_COUNTER1",
	PortPITCounter2:   "PIT_COUNTER2",
	PortPITControl:    "PIT_CONTROL",
	PortKbdData:       "KBD_DATA",
	PortSysCtrl:       "SYS_CTRL",
	PortSysPortC:      "SYS_PORTC",
	PortTimerMisc:     "TIMER_MISC",
	PortKbdStatus:     "KBD_STATUS",
	PortPOST:          "POST",
	PortDMAPage1:      "DMA_PAGE1",
	PortDMAPage3:      "DMA_PAGE3",
	PortPICSlaveCmd:   "PIC_SLAVE_CMD",
	PortPICSlaveData:  "PIC_SLAVE_DATA",
	PortVideoMiscB8:   "VIDEO_MISC_B8",
	PortDiskData:      "DISK_DATA",
	Port0201:          "PORT_0201",
	Port0210:          "PORT_0210",
	Port0213:          "PORT_213",
	Port0278:          "PORT_0278",
	Port02FA:          "PORT_02FA",
	Port0378:          "PORT_0378",
	Port03BC:          "PORT_03BC",
	Port03FA:          "PORT_03FA",
	PortMDAIndex:      "MDA_INDEX",
	PortMDAData:       "MDA_DATA",
	PortMDAMode:       "MDA_MODE",
	PortMDAAttr:       "MDA_ATTR",
	PortCGAIndex:      "CGA_INDEX",
	PortCGAData:       "CGA_DATA",
	PortCGAMode:       "CGA_MODE",
	PortCGAAttr:       "CGA_ATTR",
	PortCGAStatus:     "CGA_STATUS",
	PortFDCDOR:        "FDC_DOR",
	PortFDCStatus:     "FDC_STATUS",
	PortFDCData:       "FDC_DATA",

	dmaChannelBase + 0: "DMA_ADDR1",
	dmaChannelBase + 1: "DMA_COUNT1",
	dmaChannelBase + 2: "DMA_ADDR2",
	dmaChannelBase + 3: "DMA_COUNT2",
	dmaChannelBase + 4: "DMA_ADDR3",
	dmaChannelBase + 5: "DMA_COUNT3",
}

// PortName returns the symbolic name of a served port.
func PortName(port uint16) (string, bool) {
	name, ok := portNames[port]
	return name, ok
}

// portSet is embedded by devices to serve PortNamer from the shared table.
type portSet struct{}

func (portSet) PortName(port uint16) (string, bool) { return PortName(port) }
